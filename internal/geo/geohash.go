package geo

import "strings"

// CoarsePrecision is the geohash length stored with view records.
// Four characters is roughly a 39km x 19km cell: enough for regional
// grouping without pinpointing a visitor.
const CoarsePrecision = 4

// maxPrecision bounds Encode so a bad caller cannot request an unbounded string.
const maxPrecision = 12

// base32 is the geohash base32 alphabet (no 'a', 'i', 'l' or 'o').
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Encode encodes latitude and longitude into a geohash of the given length.
// Precision below 1 falls back to CoarsePrecision.
func Encode(lat, lng float64, precision int) string {
	if precision < 1 {
		precision = CoarsePrecision
	}
	if precision > maxPrecision {
		precision = maxPrecision
	}

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	var out strings.Builder
	out.Grow(precision)

	var ch uint
	bits := 0
	even := true
	for out.Len() < precision {
		// Even bits refine longitude, odd bits refine latitude.
		rng, val := &latRange, lat
		if even {
			rng, val = &lngRange, lng
		}
		mid := (rng[0] + rng[1]) / 2
		if val > mid {
			ch |= 1 << (4 - bits)
			rng[0] = mid
		} else {
			rng[1] = mid
		}

		even = !even
		bits++
		if bits == 5 {
			out.WriteByte(base32[ch])
			bits = 0
			ch = 0
		}
	}

	return out.String()
}

// Coarse returns the privacy-safe geohash prefix for a coordinate pair.
// Returns an empty string for the null island (0,0), which providers use
// when they have no coordinates.
func Coarse(lat, lng float64) string {
	if lat == 0 && lng == 0 {
		return ""
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ""
	}
	return Encode(lat, lng, CoarsePrecision)
}
