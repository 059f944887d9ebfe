package search

import (
	"math"
	"sort"
	"strings"
)

const earthRadiusMeters = 6371008.8

const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// DistanceMeters returns the haversine distance between two points
func DistanceMeters(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// EncodeGeohash returns the geohash of p with precision characters
func EncodeGeohash(p GeoPoint, precision int) string {
	if precision < 1 {
		precision = 1
	}
	if precision > 12 {
		precision = 12
	}
	latLo, latHi := -90.0, 90.0
	lngLo, lngHi := -180.0, 180.0

	var b strings.Builder
	bit, ch, even := 0, 0, true
	for b.Len() < precision {
		if even {
			mid := (lngLo + lngHi) / 2
			if p.Lng >= mid {
				ch |= 1 << (4 - bit)
				lngLo = mid
			} else {
				lngHi = mid
			}
		} else {
			mid := (latLo + latHi) / 2
			if p.Lat >= mid {
				ch |= 1 << (4 - bit)
				latLo = mid
			} else {
				latHi = mid
			}
		}
		even = !even
		if bit < 4 {
			bit++
			continue
		}
		b.WriteByte(geohashAlphabet[ch])
		bit, ch = 0, 0
	}
	return b.String()
}

// DecodeGeohash returns the center of the geohash cell
func DecodeGeohash(hash string) (GeoPoint, bool) {
	latLo, latHi := -90.0, 90.0
	lngLo, lngHi := -180.0, 180.0
	even := true
	for _, r := range strings.ToLower(hash) {
		idx := strings.IndexRune(geohashAlphabet, r)
		if idx < 0 {
			return GeoPoint{}, false
		}
		for bit := 4; bit >= 0; bit-- {
			set := idx&(1<<bit) != 0
			if even {
				mid := (lngLo + lngHi) / 2
				if set {
					lngLo = mid
				} else {
					lngHi = mid
				}
			} else {
				mid := (latLo + latHi) / 2
				if set {
					latLo = mid
				} else {
					latHi = mid
				}
			}
			even = !even
		}
	}
	return GeoPoint{Lat: (latLo + latHi) / 2, Lng: (lngLo + lngHi) / 2}, hash != ""
}

// ClusterHits groups hits into geohash cells of the given precision.
// Each cluster is centered on the mean of its members and carries the
// first member as sample. Clusters are ordered by count descending.
func ClusterHits(hits []Hit, geoField string, precision int) []GeoCluster {
	if geoField == "" {
		return nil
	}
	type cell struct {
		latSum, lngSum float64
		count          int64
		sample         Hit
		order          int
	}
	cells := make(map[string]*cell)
	for _, h := range hits {
		v, ok := h.Fields[geoField]
		if !ok || v == nil {
			continue
		}
		p, err := ParseGeoPoint(geoValue(v))
		if err != nil {
			continue
		}
		hash := EncodeGeohash(p, precision)
		c, ok := cells[hash]
		if !ok {
			c = &cell{sample: h, order: len(cells)}
			cells[hash] = c
		}
		c.latSum += p.Lat
		c.lngSum += p.Lng
		c.count++
	}

	out := make([]GeoCluster, 0, len(cells))
	order := make(map[string]int, len(cells))
	for hash, c := range cells {
		sample := c.sample
		out = append(out, GeoCluster{
			Lat:     c.latSum / float64(c.count),
			Lng:     c.lngSum / float64(c.count),
			Count:   c.count,
			Geohash: hash,
			Hit:     &sample,
		})
		order[hash] = c.order
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return order[out[i].Geohash] < order[out[j].Geohash]
	})
	return out
}
