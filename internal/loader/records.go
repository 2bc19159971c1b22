package loader

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
)

// StationRecord is one station as read from the input data.
type StationRecord struct {
	Name       string   `json:"name" validate:"required" jsonschema:"required,description=Unique station name"`
	Importance float64  `json:"importance_score" validate:"gte=0" jsonschema:"description=Relative importance; 50 when omitted. The key importance is also accepted"`
	Platforms  int      `json:"platforms,omitempty" validate:"gte=0" jsonschema:"description=Explicit platform count; derived from importance when omitted"`
	Lat        *float64 `json:"lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Lon        *float64 `json:"lon,omitempty" validate:"omitempty,gte=-180,lte=180"`
}

// Point returns the station location, if the record carried one.
func (r StationRecord) Point() (orb.Point, bool) {
	if r.Lat == nil || r.Lon == nil {
		return orb.Point{}, false
	}
	return orb.Point{*r.Lon, *r.Lat}, true
}

// TrackRecord is one track as read from the input data.
type TrackRecord struct {
	Coords     [][]float64 `json:"coords,omitempty" validate:"omitempty,min=2,dive,len=2" jsonschema:"description=Polyline of [lat lon] pairs"`
	Length     float64     `json:"length,omitempty" validate:"gte=0" jsonschema:"description=Length in km; computed from coords when omitted"`
	SpeedLimit float64     `json:"speed_limit,omitempty" validate:"gt=0" jsonschema:"description=km/h; 80 when omitted"`
	From       string      `json:"from,omitempty" jsonschema:"description=Start station name; skips the nearest-station lookup"`
	To         string      `json:"to,omitempty" jsonschema:"description=End station name; skips the nearest-station lookup"`
}

func parseStation(m map[string]any, defaultImportance float64) (StationRecord, error) {
	name, _ := m["name"].(string)
	r := StationRecord{Name: name, Importance: defaultImportance}
	for _, key := range []string{"importance_score", "importance"} {
		if v, ok := m[key]; ok && v != nil {
			f, err := toFloat(v)
			if err != nil {
				return r, fmt.Errorf("%s: %w", key, err)
			}
			r.Importance = f
			break
		}
	}
	if v, ok := m["platforms"]; ok && v != nil {
		f, err := toFloat(v)
		if err != nil {
			return r, fmt.Errorf("platforms: %w", err)
		}
		r.Platforms = int(f)
	}
	lat, latOK, err := optFloat(m, "lat")
	if err != nil {
		return r, err
	}
	lon, lonOK, err := optFloat(m, "lon")
	if err != nil {
		return r, err
	}
	if latOK && lonOK {
		r.Lat, r.Lon = &lat, &lon
	}
	return r, nil
}

func parseTrack(m map[string]any, defaultSpeed float64, lonLat bool) (TrackRecord, error) {
	r := TrackRecord{SpeedLimit: defaultSpeed}
	r.From, _ = m["from"].(string)
	r.To, _ = m["to"].(string)
	if v, ok := m["length"]; ok && v != nil {
		f, err := toFloat(v)
		if err != nil {
			return r, fmt.Errorf("length: %w", err)
		}
		r.Length = f
	}
	if v, ok := m["speed_limit"]; ok && v != nil {
		f, err := toFloat(v)
		if err != nil {
			return r, fmt.Errorf("speed_limit: %w", err)
		}
		r.SpeedLimit = f
	}
	if v, ok := m["coords"]; ok && v != nil {
		coords, err := toCoords(v)
		if err != nil {
			return r, fmt.Errorf("coords: %w", err)
		}
		if lonLat {
			for _, c := range coords {
				if len(c) == 2 {
					c[0], c[1] = c[1], c[0]
				}
			}
		}
		r.Coords = coords
	}
	return r, nil
}

// line converts the [lat, lon] polyline into orb's lon/lat order.
func (r TrackRecord) line() orb.LineString {
	ls := make(orb.LineString, 0, len(r.Coords))
	for _, c := range r.Coords {
		if len(c) == 2 {
			ls = append(ls, orb.Point{c[1], c[0]})
		}
	}
	return ls
}

func optFloat(m map[string]any, key string) (float64, bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return f, true, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, err
		}
		f = x
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %v", f)
	}
	return f, nil
}

func toCoords(v any) ([][]float64, error) {
	switch c := v.(type) {
	case [][]float64:
		out := make([][]float64, len(c))
		for i, p := range c {
			out[i] = append([]float64(nil), p...)
		}
		return out, nil
	case []any:
		out := make([][]float64, 0, len(c))
		for i, p := range c {
			pair, ok := p.([]any)
			if !ok {
				if fp, ok := p.([]float64); ok {
					out = append(out, append([]float64(nil), fp...))
					continue
				}
				return nil, fmt.Errorf("point %d: not a list", i)
			}
			row := make([]float64, 0, len(pair))
			for _, x := range pair {
				f, err := toFloat(x)
				if err != nil {
					return nil, fmt.Errorf("point %d: %w", i, err)
				}
				row = append(row, f)
			}
			out = append(out, row)
		}
		return out, nil
	}
	return nil, fmt.Errorf("not a list: %T", v)
}
