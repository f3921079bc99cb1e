// Package geo indexes shops by location in Redis and answers paged nearby
// queries.
package geo

import (
	"context"
	"strconv"

	redis "github.com/redis/go-redis/v9"

	warperrors "github.com/mirkobrombin/go-seckill/v1/errors"
)

// DefaultPrefix is the key prefix of the per-type geo sets.
const DefaultPrefix = "shop:geo:"

// Location places a shop on the map.
type Location struct {
	ID        int64
	Longitude float64
	Latitude  float64
}

// Hit is a shop found by Nearby.
type Hit struct {
	ID       int64
	Distance float64 // meters
}

// Index stores one geo set per shop type.
type Index struct {
	client redis.Cmdable
	prefix string
}

// NewIndex returns an Index. An empty prefix selects DefaultPrefix.
func NewIndex(client redis.Cmdable, prefix string) *Index {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Index{client: client, prefix: prefix}
}

// Key returns the geo set of typeID.
func (i *Index) Key(typeID int64) string {
	return i.prefix + strconv.FormatInt(typeID, 10)
}

// Load adds locs to the set of typeID, replacing known positions.
func (i *Index) Load(ctx context.Context, typeID int64, locs []Location) error {
	if len(locs) == 0 {
		return nil
	}
	members := make([]*redis.GeoLocation, 0, len(locs))
	for _, l := range locs {
		members = append(members, &redis.GeoLocation{
			Name:      strconv.FormatInt(l.ID, 10),
			Longitude: l.Longitude,
			Latitude:  l.Latitude,
		})
	}
	return warperrors.Translate(i.client.GeoAdd(ctx, i.Key(typeID), members...).Err())
}

// Nearby returns page (1-based) of the shops of typeID within radius meters
// of the given point, nearest first. A page past the last hit is empty.
func (i *Index) Nearby(ctx context.Context, typeID int64, lon, lat, radius float64, page, pageSize int) ([]Hit, error) {
	if page < 1 || pageSize < 1 {
		return nil, warperrors.Wrapf(warperrors.ErrValidation, "page %d size %d", page, pageSize)
	}
	from := (page - 1) * pageSize
	locs, err := i.client.GeoRadius(ctx, i.Key(typeID), lon, lat, &redis.GeoRadiusQuery{
		Radius:   radius,
		Unit:     "m",
		WithDist: true,
		Sort:     "ASC",
		Count:    from + pageSize,
	}).Result()
	if err != nil {
		return nil, warperrors.Translate(err)
	}
	hits := []Hit{}
	if from >= len(locs) {
		return hits, nil
	}
	for _, l := range locs[from:] {
		id, err := strconv.ParseInt(l.Name, 10, 64)
		if err != nil {
			return nil, warperrors.Wrapf(err, "geo member %q", l.Name)
		}
		hits = append(hits, Hit{ID: id, Distance: l.Dist})
	}
	return hits, nil
}
