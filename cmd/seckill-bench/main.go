package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"sync"
	"sync/atomic"
	"time"

	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
	"github.com/mirkobrombin/go-seckill/v1/presets"
	"github.com/mirkobrombin/go-seckill/v1/seckill"
)

var (
	addr        = flag.String("redis", "localhost:6379", "Redis address")
	concurrency = flag.Int("c", 50, "Number of concurrent clients")
	users       = flag.Int("n", 100000, "Number of distinct users")
	stock       = flag.Int64("stock", 100, "Voucher stock")
	voucherID   = flag.Int64("voucher", 1, "Voucher id")
)

func main() {
	flag.Parse()

	log.Printf("Starting benchmark: %d users, %d concurrency, stock %d", *users, *concurrency, *stock)

	s, err := presets.NewRedisSeckill(presets.RedisOptions{Addr: *addr, PoolSize: *concurrency}, nil)
	if err != nil {
		log.Fatalf("Setup failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	p := s.Pipeline
	now := time.Now()
	// Republishing resets the stock but not the set of buyers.
	if err := s.Client.Del(ctx, seckill.OrderSetKey(*voucherID)).Err(); err != nil {
		log.Fatalf("Setup failed: %v", err)
	}
	err = p.PublishVoucher(ctx, seckill.Voucher{
		ID:        *voucherID,
		Stock:     *stock,
		BeginTime: now.Add(-time.Minute),
		EndTime:   now.Add(time.Hour),
	})
	if err != nil {
		log.Fatalf("Setup failed: %v", err)
	}

	var (
		wg                          sync.WaitGroup
		next                        atomic.Int64
		admitted, soldOut, failures atomic.Int64
	)
	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				user := next.Add(1)
				if user > int64(*users) {
					return
				}
				_, err := p.Admit(ctx, *voucherID, user)
				switch {
				case err == nil:
					admitted.Add(1)
				case errors.Is(err, warperrors.ErrOutOfStock):
					soldOut.Add(1)
				default:
					failures.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops := float64(*users)
	log.Printf("Finished in %v", elapsed)
	log.Printf("Throughput: %.2f admissions/s", ops/elapsed.Seconds())
	log.Printf("Avg Latency: %.2f us", elapsed.Seconds()/ops*1e6*float64(*concurrency))
	log.Printf("Admitted: %d, out of stock: %d", admitted.Load(), soldOut.Load())
	if failures.Load() > 0 {
		log.Printf("Errors: %d", failures.Load())
	}
	if admitted.Load() > *stock {
		log.Fatalf("Oversold: %d admitted for stock %d", admitted.Load(), *stock)
	}
}
