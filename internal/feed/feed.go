// Package feed publishes the live train state as a GTFS-Realtime feed.
package feed

import (
	"fmt"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"google.golang.org/protobuf/proto"

	"github.com/cxd309/tms-railenv/internal/graph"
	"github.com/cxd309/tms-railenv/internal/train"
)

// Version is the GTFS-Realtime version written to every header.
const Version = "2.0"

// ContentType is the media type of a marshalled feed.
const ContentType = "application/x-protobuf"

// Builder turns train snapshots into FeedMessages. Simulated minutes are
// offset from Epoch to produce wall-clock timestamps.
type Builder struct {
	g     *graph.Graph
	epoch time.Time
}

// NewBuilder returns a Builder over g. A zero epoch uses the Unix epoch.
func NewBuilder(g *graph.Graph, epoch time.Time) *Builder {
	if epoch.IsZero() {
		epoch = time.Unix(0, 0)
	}
	return &Builder{g: g, epoch: epoch}
}

// Timestamp converts elapsed simulated minutes into Unix seconds.
func (b *Builder) Timestamp(elapsedMin float64) uint64 {
	return uint64(b.epoch.Add(time.Duration(elapsedMin * float64(time.Minute))).Unix())
}

// Build returns a full-dataset feed with one vehicle position and one trip
// update per train.
func (b *Builder) Build(logs []train.Log, elapsedMin float64) *gtfsrtpb.FeedMessage {
	ts := b.Timestamp(elapsedMin)
	msg := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(Version),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(ts),
		},
	}
	for _, l := range logs {
		trip := &gtfsrtpb.TripDescriptor{TripId: proto.String(l.ID)}
		vehicle := &gtfsrtpb.VehicleDescriptor{Id: proto.String(l.ID), Label: proto.String(l.ID)}
		msg.Entity = append(msg.Entity,
			&gtfsrtpb.FeedEntity{
				Id:      proto.String("vp-" + l.ID),
				Vehicle: b.vehiclePosition(l, trip, vehicle, ts),
			},
			&gtfsrtpb.FeedEntity{
				Id:         proto.String("tu-" + l.ID),
				TripUpdate: b.tripUpdate(l, trip, vehicle, ts),
			},
		)
	}
	return msg
}

func (b *Builder) vehiclePosition(l train.Log, trip *gtfsrtpb.TripDescriptor, v *gtfsrtpb.VehicleDescriptor, ts uint64) *gtfsrtpb.VehiclePosition {
	vp := &gtfsrtpb.VehiclePosition{
		Trip:      trip,
		Vehicle:   v,
		Timestamp: proto.Uint64(ts),
	}
	if l.OnEdge && l.NextStop != "" {
		vp.CurrentStatus = gtfsrtpb.VehiclePosition_IN_TRANSIT_TO.Enum()
		vp.StopId = proto.String(l.NextStop)
	} else {
		vp.CurrentStatus = gtfsrtpb.VehiclePosition_STOPPED_AT.Enum()
		vp.StopId = proto.String(l.Position)
	}
	if p, bearing, ok := b.locate(l); ok {
		vp.Position = &gtfsrtpb.Position{
			Latitude:  proto.Float32(float32(p.Lat())),
			Longitude: proto.Float32(float32(p.Lon())),
			Speed:     proto.Float32(float32(l.Speed / 3.6)),
		}
		if l.OnEdge {
			vp.Position.Bearing = proto.Float32(float32(bearing))
		}
	}
	return vp
}

// locate places a train on the map: at its station, or along the straight
// line to the next station in proportion to the distance covered.
func (b *Builder) locate(l train.Log) (orb.Point, float64, bool) {
	from, ok := b.g.Station(l.Position)
	if !ok || from.Location == nil {
		return orb.Point{}, 0, false
	}
	if !l.OnEdge || l.NextStop == "" {
		return *from.Location, 0, true
	}
	to, ok := b.g.Station(l.NextStop)
	track, hasTrack := b.g.Track(l.Position, l.NextStop)
	if !ok || to.Location == nil || !hasTrack {
		return *from.Location, 0, true
	}
	bearing := geo.Bearing(*from.Location, *to.Location)
	frac := min(max(l.Covered/track.LengthKM, 0), 1)
	dist := geo.DistanceHaversine(*from.Location, *to.Location) * frac
	return geo.PointAtBearingAndDistance(*from.Location, bearing, dist), bearing, true
}

func (b *Builder) tripUpdate(l train.Log, trip *gtfsrtpb.TripDescriptor, v *gtfsrtpb.VehicleDescriptor, ts uint64) *gtfsrtpb.TripUpdate {
	delay := int32(l.Delay * 60)
	tu := &gtfsrtpb.TripUpdate{
		Trip:      trip,
		Vehicle:   v,
		Timestamp: proto.Uint64(ts),
		Delay:     proto.Int32(delay),
	}
	// Remaining stops, the current one excluded.
	for i, stop := range l.Route {
		if i == 0 {
			continue
		}
		tu.StopTimeUpdate = append(tu.StopTimeUpdate, &gtfsrtpb.TripUpdate_StopTimeUpdate{
			StopSequence: proto.Uint32(uint32(i)),
			StopId:       proto.String(stop),
			Arrival:      &gtfsrtpb.TripUpdate_StopTimeEvent{Delay: proto.Int32(delay)},
		})
	}
	return tu
}

// Marshal encodes a feed in the protobuf wire format.
func Marshal(msg *gtfsrtpb.FeedMessage) ([]byte, error) {
	b, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal feed: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a feed from the protobuf wire format.
func Unmarshal(b []byte) (*gtfsrtpb.FeedMessage, error) {
	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(b, &fm); err != nil {
		return nil, fmt.Errorf("unmarshal feed: %w", err)
	}
	return &fm, nil
}
