// Package sim is a simulated LiveWatch device: the serial-side object
// runtime re-expressed over TCP so the engine can be exercised end to end
// without hardware.
package sim

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/tansel/livewatch/proto"
)

// ObjectSpec declares one schema-backed object the device exposes.
type ObjectSpec struct {
	Name         string
	Fields       []proto.Field
	Subscribable bool
	ReadOnly     bool
	Discoverable bool
}

// Device holds the object runtime: schema registry, JSON-backed object
// state, and the subscriber set. One Device may serve many connections; all
// state is guarded here.
type Device struct {
	mu      sync.Mutex
	specs   map[string]ObjectSpec
	objects map[string]map[string]any
	subs    map[string]struct{}

	maxActiveSubscribers int
	lastPush             time.Time
}

func NewDevice() *Device {
	return &Device{
		specs:                make(map[string]ObjectSpec),
		objects:              make(map[string]map[string]any),
		subs:                 make(map[string]struct{}),
		maxActiveSubscribers: 5,
	}
}

// RegisterBuiltins installs the stock laser and plasma objects.
func (d *Device) RegisterBuiltins() {
	d.Register(ObjectSpec{
		Name: "laser",
		Fields: []proto.Field{
			{Name: "enabled", Type: "boolean"},
			{Name: "power", Type: "number"},
			{Name: "mode", Type: "string"},
		},
		Subscribable: true,
		Discoverable: true,
	})
	d.Register(ObjectSpec{
		Name: "plasma",
		Fields: []proto.Field{
			{Name: "enabled", Type: "boolean"},
			{Name: "temperature", Type: "number"},
			{Name: "pressure", Type: "number"},
		},
		Subscribable: true,
		Discoverable: true,
	})
}

// Register adds or replaces an object spec. Duplicate names update the
// existing registration.
func (d *Device) Register(spec ObjectSpec) {
	d.mu.Lock()
	d.specs[spec.Name] = spec
	d.mu.Unlock()
}

// newObjectLocked materializes an object from its spec with zero values.
func (d *Device) newObjectLocked(name string) map[string]any {
	spec, ok := d.specs[name]
	if !ok {
		return nil
	}
	obj := make(map[string]any, len(spec.Fields))
	for _, f := range spec.Fields {
		switch f.Type {
		case "boolean":
			obj[f.Name] = false
		case "number":
			obj[f.Name] = 0.0
		default:
			obj[f.Name] = ""
		}
	}
	d.objects[name] = obj
	return obj
}

// Handle processes one inbound wire line and returns the response lines to
// write back, in order. Unparseable input is dropped silently, matching the
// firmware.
func (d *Device) Handle(line string) []string {
	msg, err := proto.ParseLine(line)
	if err != nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch msg.Type {
	case proto.TypeDiscover:
		return d.handleDiscover(msg)
	case proto.TypeGet:
		return d.handleGet(msg.ID, msg.Path)
	case proto.TypeSubscribe:
		return d.handleSubscribe(msg)
	case proto.TypeUnsubscribe:
		return d.handleUnsubscribe(msg)
	case proto.TypeSet:
		return d.handleSet(msg)
	case proto.TypeDelete:
		return d.handleDelete(msg)
	default:
		return nil
	}
}

func (d *Device) handleDiscover(msg proto.Message) []string {
	resp := proto.Message{Type: proto.TypeDiscoverResponse, ID: msg.ID}
	spec, ok := d.specs[msg.Path]
	if ok && spec.Discoverable {
		resp.Found = true
		_, subscribed := d.subs[msg.Path]
		schema := &proto.Schema{
			Name:         spec.Name,
			Fields:       spec.Fields,
			Subscribable: spec.Subscribable,
			ReadOnly:     spec.ReadOnly,
			Discoverable: spec.Discoverable,
			Subscribed:   subscribed,
		}
		if subscribed {
			schema.SubscriberCount = 1
		}
		resp.Schema = schema
	}
	return marshalAll(resp)
}

func (d *Device) handleGet(id, path string) []string {
	resp := proto.Message{Type: proto.TypeState, ID: id, Path: path}
	obj, ok := d.objects[path]
	if !ok {
		if _, known := d.specs[path]; known {
			obj = d.newObjectLocked(path)
		}
	}
	if obj == nil {
		resp.Error = "not_found"
		return marshalAll(resp)
	}
	value, err := json.Marshal(obj)
	if err != nil {
		slog.Error("Marshal state", "path", path, "err", err)
		return nil
	}
	resp.Value = value
	return marshalAll(resp)
}

func (d *Device) handleSubscribe(msg proto.Message) []string {
	resp := proto.Message{Type: proto.TypeSubscribeResponse, ID: msg.ID, Path: msg.Path}
	spec, ok := d.specs[msg.Path]
	switch {
	case !ok:
		resp.Error = "not_found"
	case !spec.Discoverable:
		resp.Error = "not_discoverable"
	case !spec.Subscribable:
		resp.Error = "not_subscribable"
	}
	if resp.Error != "" {
		return marshalAll(resp)
	}

	if _, exists := d.objects[msg.Path]; !exists {
		d.newObjectLocked(msg.Path)
	}
	d.subs[msg.Path] = struct{}{}

	// acknowledge, then push immediate state for convenience
	lines := marshalAll(resp)
	return append(lines, d.handleGet("get-"+msg.Path, msg.Path)...)
}

func (d *Device) handleUnsubscribe(msg proto.Message) []string {
	delete(d.subs, msg.Path)
	resp := proto.Message{Type: proto.TypeUnsubscribeResponse, ID: msg.ID, Path: msg.Path}
	return marshalAll(resp)
}

func (d *Device) handleSet(msg proto.Message) []string {
	ack := proto.Message{Type: "set.response", ID: msg.ID, Path: msg.Path}
	if spec, ok := d.specs[msg.Path]; ok && spec.ReadOnly {
		ack.Error = "read_only"
		return marshalAll(ack)
	}
	changes, err := msg.DecodeChanges()
	if err != nil {
		return nil
	}

	obj, ok := d.objects[msg.Path]
	if !ok {
		if obj = d.newObjectLocked(msg.Path); obj == nil {
			ack.Error = "not_found"
			return marshalAll(ack)
		}
	}
	for k, v := range changes {
		obj[k] = v
	}

	var lines []string
	if d.shouldNotifyLocked(msg.Path) {
		if update := d.updateForLocked(msg.Path, changes); update != nil {
			lines = append(lines, update...)
		}
	}
	return append(lines, marshalAll(ack)...)
}

func (d *Device) handleDelete(msg proto.Message) []string {
	obj, ok := d.objects[msg.Path]
	if !ok || msg.Field == "" {
		return nil
	}
	obj[msg.Field] = "deleted"

	var lines []string
	if d.shouldNotifyLocked(msg.Path) {
		lines = append(lines, d.updateForLocked(msg.Path, map[string]any{msg.Field: "deleted"})...)
	}
	// follow with a full state so clients can show the complete object
	lines = append(lines, d.handleGet("", msg.Path)...)
	return lines
}

// shouldNotifyLocked reports whether path has a subscriber and its spec
// allows subscription traffic.
func (d *Device) shouldNotifyLocked(path string) bool {
	if _, ok := d.subs[path]; !ok {
		return false
	}
	if spec, ok := d.specs[path]; ok && !spec.Subscribable {
		return false
	}
	return true
}

func (d *Device) updateForLocked(path string, changes map[string]any) []string {
	up := proto.Message{Type: proto.TypeUpdate, Path: path}
	if err := up.EncodeChanges(changes); err != nil {
		slog.Error("Marshal update", "path", path, "err", err)
		return nil
	}
	return marshalAll(up)
}

// Tick emits update deltas for at most maxActiveSubscribers subscribed
// objects, rate limited to one pass per 500ms. The returned lines carry the
// full field set of each object, mirroring the firmware's periodic push.
func (d *Device) Tick(now time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if now.Sub(d.lastPush) <= 500*time.Millisecond {
		return nil
	}
	d.lastPush = now

	var lines []string
	sent := 0
	for path := range d.subs {
		if sent >= d.maxActiveSubscribers {
			break
		}
		obj, ok := d.objects[path]
		if !ok {
			continue
		}
		if spec, ok := d.specs[path]; ok && !spec.Subscribable {
			continue
		}
		lines = append(lines, d.updateForLocked(path, obj)...)
		sent++
	}
	return lines
}

// Randomize jitters every numeric field of every registered object, the
// demo-mode behavior of the firmware's randomizer tick.
func (d *Device) Randomize(rng *rand.Rand) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, spec := range d.specs {
		obj, ok := d.objects[name]
		if !ok {
			continue
		}
		for _, f := range spec.Fields {
			if f.Type != "number" {
				continue
			}
			cur, _ := obj[f.Name].(float64)
			obj[f.Name] = cur + rng.Float64()*2 - 1
		}
	}
}

func marshalAll(msgs ...proto.Message) []string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		data, err := m.Marshal()
		if err != nil {
			slog.Error("Marshal message", "type", m.Type, "err", err)
			continue
		}
		lines = append(lines, string(data[:len(data)-1]))
	}
	return lines
}
