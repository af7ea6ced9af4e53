package simhost

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"simlink/codec"
	"simlink/message"
)

// Object is one simulated object. Vars are keyed by upper-case variable name;
// numbers are stored as float64, text as string. Units are not converted: a
// value is read back in whatever unit it was written.
type Object struct {
	ID    uint32
	Title string
	Tail  string
	// AI marks objects created through AICreateNonATCAircraft; Released is set
	// once control was handed to the client.
	AI       bool
	Released bool
	Vars     map[string]any
}

// World is the shared state every connection of a Server reads and writes.
type World struct {
	mu      sync.RWMutex
	objects map[uint32]*Object
	nextID  uint32
}

// NewWorld returns a world holding only the user aircraft (object 0), parked
// on the ground.
func NewWorld() *World {
	w := &World{
		objects: make(map[uint32]*Object),
		nextID:  1,
	}
	w.objects[message.ObjectIDUser] = &Object{
		ID:    message.ObjectIDUser,
		Title: "Simlink Trainer",
		Tail:  "SL-001",
		Vars: map[string]any{
			"TITLE":                      "Simlink Trainer",
			"ATC ID":                     "SL-001",
			"PLANE LATITUDE":             47.4582,
			"PLANE LONGITUDE":            8.5555,
			"PLANE ALTITUDE":             1416.0,
			"PLANE PITCH DEGREES":        0.0,
			"PLANE BANK DEGREES":         0.0,
			"PLANE HEADING DEGREES TRUE": 140.0,
			"SIM ON GROUND":              1.0,
			"AIRSPEED INDICATED":         0.0,
			"IS SLEW ACTIVE":             0.0,
			"LIGHT LANDING":              0.0,
			"LIGHT LOGO":                 0.0,
			"LIGHT TAXI":                 0.0,
			"LIGHT BEACON":               0.0,
			"LIGHT NAV":                  0.0,
			"LIGHT STROBE":               0.0,
		},
	}
	return w
}

func varKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Get returns a variable of an object.
func (w *World) Get(objectID uint32, name string) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obj, ok := w.objects[objectID]
	if !ok {
		return nil, false
	}
	v, ok := obj.Vars[varKey(name)]
	return v, ok
}

// Set writes a variable of an object. Numbers are stored as float64.
func (w *World) Set(objectID uint32, name string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj, ok := w.objects[objectID]
	if !ok {
		return fmt.Errorf("simhost: no object %d", objectID)
	}
	obj.Vars[varKey(name)] = normalize(v)
	return nil
}

// Has reports whether objectID exists.
func (w *World) Has(objectID uint32) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.objects[objectID]
	return ok
}

// Object returns a copy of an object.
func (w *World) Object(objectID uint32) (Object, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obj, ok := w.objects[objectID]
	if !ok {
		return Object{}, false
	}
	cp := *obj
	cp.Vars = make(map[string]any, len(obj.Vars))
	for k, v := range obj.Vars {
		cp.Vars[k] = v
	}
	return cp, true
}

// Spawn creates an AI aircraft at pos and returns its object ID.
func (w *World) Spawn(title, tail string, pos message.InitPosition) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++

	airspeed := float64(pos.Airspeed)
	if pos.Airspeed < 0 {
		airspeed = 0
	}
	onGround := 0.0
	if pos.OnGround {
		onGround = 1
	}
	w.objects[id] = &Object{
		ID:    id,
		Title: title,
		Tail:  tail,
		AI:    true,
		Vars: map[string]any{
			"TITLE":                      title,
			"ATC ID":                     tail,
			"PLANE LATITUDE":             pos.Latitude,
			"PLANE LONGITUDE":            pos.Longitude,
			"PLANE ALTITUDE":             pos.Altitude,
			"PLANE PITCH DEGREES":        pos.Pitch,
			"PLANE BANK DEGREES":         pos.Bank,
			"PLANE HEADING DEGREES TRUE": pos.Heading,
			"SIM ON GROUND":              onGround,
			"AIRSPEED INDICATED":         airspeed,
			"LIGHT LANDING":              0.0,
			"LIGHT LOGO":                 0.0,
		},
	}
	return id
}

// Release marks an AI object as client-controlled.
func (w *World) Release(objectID uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj, ok := w.objects[objectID]
	if !ok || !obj.AI {
		return false
	}
	obj.Released = true
	return true
}

// Remove deletes an AI object. The user aircraft cannot be removed.
func (w *World) Remove(objectID uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj, ok := w.objects[objectID]
	if !ok || !obj.AI {
		return false
	}
	delete(w.objects, objectID)
	return true
}

// Read packs the current values of fields for objectID. Unknown variables
// read as zero or an empty string.
func (w *World) Read(objectID uint32, fields []codec.Field) ([]byte, error) {
	w.mu.RLock()
	obj, ok := w.objects[objectID]
	if !ok {
		w.mu.RUnlock()
		return nil, fmt.Errorf("simhost: no object %d", objectID)
	}
	values := make([]any, len(fields))
	for i, f := range fields {
		values[i] = coerce(f, obj.Vars[varKey(f.Name)])
	}
	w.mu.RUnlock()
	return codec.PackValues(fields, values)
}

// Write unpacks a data block for fields and stores it on objectID.
func (w *World) Write(objectID uint32, fields []codec.Field, data []byte) error {
	values, err := codec.UnpackValues(fields, data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	obj, ok := w.objects[objectID]
	if !ok {
		return fmt.Errorf("simhost: no object %d", objectID)
	}
	for i, f := range fields {
		obj.Vars[varKey(f.Name)] = normalize(values[i])
	}
	return nil
}

// Toggle flips a 0/1 variable and returns the new value.
func (w *World) Toggle(objectID uint32, name string) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj, ok := w.objects[objectID]
	if !ok {
		return 0, false
	}
	key := varKey(name)
	cur, _ := obj.Vars[key].(float64)
	next := 1.0
	if cur != 0 {
		next = 0
	}
	obj.Vars[key] = next
	return next, true
}

func normalize(v any) any {
	switch n := v.(type) {
	case string:
		return n
	case bool:
		if n {
			return 1.0
		}
		return 0.0
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint32:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return fmt.Sprint(v)
}

// coerce converts a stored value to what field's type packs from.
func coerce(f codec.Field, v any) any {
	if f.Type.IsString() {
		switch s := v.(type) {
		case nil:
			return ""
		case string:
			return s
		default:
			return fmt.Sprint(s)
		}
	}
	x, _ := v.(float64)
	switch f.Type {
	case codec.DataTypeInt32, codec.DataTypeInt64:
		r := math.Round(x)
		if f.Type == codec.DataTypeInt32 {
			r = math.Max(math.MinInt32, math.Min(math.MaxInt32, r))
		}
		return int64(r)
	}
	return x
}
