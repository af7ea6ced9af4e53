package simhost

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"simlink/codec"
	"simlink/message"
	"simlink/protocol"
)

// Handler answers one decoded client request. packetID is the frame's packet
// ID, which exceptions echo as their send ID.
type Handler func(c *Conn, packetID uint32, req message.Request)

func defaultHandlers() map[protocol.Opcode]Handler {
	return map[protocol.Opcode]Handler{
		protocol.OpOpen:                     handleOpen,
		protocol.OpAddToDataDefinition:      handleAddToDataDefinition,
		protocol.OpClearDataDefinition:      handleClearDataDefinition,
		protocol.OpRequestDataOnSimObject:   handleRequestData,
		protocol.OpSetDataOnSimObject:       handleSetData,
		protocol.OpMapClientEventToSimEvent: handleMapEvent,
		protocol.OpTransmitClientEvent:      handleTransmitEvent,
		protocol.OpSubscribeToSystemEvent:   handleSubscribeSystemEvent,
		protocol.OpAICreateNonATCAircraft:   handleCreateObject,
		protocol.OpAIReleaseControl:         handleReleaseControl,
		protocol.OpAIRemoveObject:           handleRemoveObject,
	}
}

// hostEvents are the event names MapClientEventToSimEvent accepts. A nil
// effect is accepted and does nothing.
var hostEvents = map[string]func(w *World, objectID, data uint32){
	"SLEW_ON":               func(w *World, id, _ uint32) { _ = w.Set(id, "IS SLEW ACTIVE", 1) },
	"SLEW_OFF":              func(w *World, id, _ uint32) { _ = w.Set(id, "IS SLEW ACTIVE", 0) },
	"SLEW_TOGGLE":           func(w *World, id, _ uint32) { w.Toggle(id, "IS SLEW ACTIVE") },
	"LANDING_LIGHTS_TOGGLE": func(w *World, id, _ uint32) { w.Toggle(id, "LIGHT LANDING") },
	"LANDING_LIGHTS_ON":     func(w *World, id, _ uint32) { _ = w.Set(id, "LIGHT LANDING", 1) },
	"LANDING_LIGHTS_OFF":    func(w *World, id, _ uint32) { _ = w.Set(id, "LIGHT LANDING", 0) },
	"TOGGLE_LOGO_LIGHTS":    func(w *World, id, _ uint32) { w.Toggle(id, "LIGHT LOGO") },
	"TOGGLE_TAXI_LIGHTS":    func(w *World, id, _ uint32) { w.Toggle(id, "LIGHT TAXI") },
	"TOGGLE_BEACON_LIGHTS":  func(w *World, id, _ uint32) { w.Toggle(id, "LIGHT BEACON") },
	"TOGGLE_NAV_LIGHTS":     func(w *World, id, _ uint32) { w.Toggle(id, "LIGHT NAV") },
	"STROBES_TOGGLE":        func(w *World, id, _ uint32) { w.Toggle(id, "LIGHT STROBE") },
	"HEADING_BUG_SET":       func(w *World, id, data uint32) { _ = w.Set(id, "AUTOPILOT HEADING LOCK DIR", float64(data)) },

	"PAUSE_TOGGLE":                     nil,
	"FREEZE_LATITUDE_LONGITUDE_TOGGLE": nil,
}

// systemEvents are the names SubscribeToSystemEvent accepts.
var systemEvents = map[string]bool{
	"1sec":           true,
	"4sec":           true,
	"6Hz":            true,
	"Frame":          true,
	"Pause":          true,
	"Paused":         true,
	"Unpaused":       true,
	"Sim":            true,
	"SimStart":       true,
	"SimStop":        true,
	"Crashed":        true,
	"CrashReset":     true,
	"AircraftLoaded": true,
	"FlightLoaded":   true,
	"ObjectAdded":    true,
	"ObjectRemoved":  true,
}

func handleOpen(c *Conn, pid uint32, req message.Request) {
	open := req.(*message.Open)
	if open.ProtocolVersion != message.ProtocolVersion {
		c.Exception(protocol.ExceptionVersionMismatch, pid, 1)
		return
	}
	c.mu.Lock()
	c.opened = true
	c.appName = open.AppName
	c.mu.Unlock()
	c.logger.Info("client opened", zap.String("app", open.AppName))

	opts := c.srv.opts
	_ = c.Send(&message.RecvOpen{
		ApplicationName: opts.ApplicationName,
		AppVersionMajor: opts.VersionMajor,
		AppVersionMinor: opts.VersionMinor,
		ProtocolVersion: message.ProtocolVersion,
	})
}

func handleAddToDataDefinition(c *Conn, pid uint32, req message.Request) {
	add := req.(*message.AddToDataDefinition)
	if !add.DataType.Valid() {
		c.Exception(protocol.ExceptionInvalidDataType, pid, 3)
		return
	}
	if strings.TrimSpace(add.DatumName) == "" {
		c.Exception(protocol.ExceptionNameUnrecognized, pid, 1)
		return
	}
	c.mu.Lock()
	c.defs[add.DefineID] = append(c.defs[add.DefineID], codec.Field{
		Name:    add.DatumName,
		Unit:    add.UnitsName,
		Type:    add.DataType,
		Epsilon: add.Epsilon,
	})
	c.mu.Unlock()
}

func handleClearDataDefinition(c *Conn, pid uint32, req message.Request) {
	clr := req.(*message.ClearDataDefinition)
	c.mu.Lock()
	_, ok := c.defs[clr.DefineID]
	delete(c.defs, clr.DefineID)
	c.mu.Unlock()
	if !ok {
		c.Exception(protocol.ExceptionUnrecognizedID, pid, 0)
	}
}

// definition returns a copy of the fields of defID.
func (c *Conn) definition(defID uint32) ([]codec.Field, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fields, ok := c.defs[defID]
	if !ok {
		return nil, false
	}
	return append([]codec.Field(nil), fields...), true
}

func (c *Conn) interval(p message.Period, skip uint32) (time.Duration, bool) {
	var base time.Duration
	switch p {
	case message.PeriodVisualFrame, message.PeriodSimFrame:
		base = c.srv.opts.Tick
	case message.PeriodSecond:
		base = time.Second
	default:
		return 0, false
	}
	return base * time.Duration(skip+1), true
}

func handleRequestData(c *Conn, pid uint32, req message.Request) {
	rd := req.(*message.RequestDataOnSimObject)
	if rd.Period == message.PeriodNever {
		c.stopStream(rd.RequestID)
		return
	}
	fields, ok := c.definition(rd.DefineID)
	if !ok {
		c.Exception(protocol.ExceptionUnrecognizedID, pid, 1)
		return
	}
	if !c.srv.world.Has(rd.ObjectID) {
		c.Exception(protocol.ExceptionUnrecognizedID, pid, 2)
		return
	}

	if rd.Period == message.PeriodOnce {
		c.stopStream(rd.RequestID)
		data, err := c.srv.world.Read(rd.ObjectID, fields)
		if err != nil {
			c.Exception(protocol.ExceptionDataError, pid, 2)
			return
		}
		_ = c.Send(dataReply(rd, data))
		return
	}

	every, ok := c.interval(rd.Period, rd.Interval)
	if !ok {
		c.Exception(protocol.ExceptionError, pid, 3)
		return
	}
	c.startStream(rd, fields, every)
}

func handleSetData(c *Conn, pid uint32, req message.Request) {
	sd := req.(*message.SetDataOnSimObject)
	fields, ok := c.definition(sd.DefineID)
	if !ok {
		c.Exception(protocol.ExceptionUnrecognizedID, pid, 0)
		return
	}
	if !c.srv.world.Has(sd.ObjectID) {
		c.Exception(protocol.ExceptionUnrecognizedID, pid, 1)
		return
	}
	count := sd.ArrayCount
	if count == 0 {
		count = 1
	}
	if len(sd.Data) != codec.BlockSize(fields)*int(count) {
		c.Exception(protocol.ExceptionSizeMismatch, pid, 5)
		return
	}
	// Only the first entry of an array write targets ObjectID.
	if err := c.srv.world.Write(sd.ObjectID, fields, sd.Data[:codec.BlockSize(fields)]); err != nil {
		c.Exception(protocol.ExceptionDataError, pid, 5)
	}
}

func handleMapEvent(c *Conn, pid uint32, req message.Request) {
	me := req.(*message.MapClientEventToSimEvent)
	name := strings.ToUpper(strings.TrimSpace(me.EventName))
	c.mu.Lock()
	_, dup := c.events[me.EventID]
	c.mu.Unlock()
	if dup {
		c.Exception(protocol.ExceptionEventIDDuplicate, pid, 0)
		return
	}
	if _, ok := hostEvents[name]; !ok {
		c.Exception(protocol.ExceptionNameUnrecognized, pid, 1)
		return
	}
	c.mu.Lock()
	c.events[me.EventID] = name
	c.mu.Unlock()
}

// handleTransmitEvent applies the event to the world and echoes it back as a
// RecvEvent, the way a host notifies the sender's notification group.
func handleTransmitEvent(c *Conn, pid uint32, req message.Request) {
	te := req.(*message.TransmitClientEvent)
	c.mu.Lock()
	name, ok := c.events[te.EventID]
	c.mu.Unlock()
	if !ok {
		c.Exception(protocol.ExceptionUnrecognizedID, pid, 1)
		return
	}
	if !c.srv.world.Has(te.ObjectID) {
		c.Exception(protocol.ExceptionUnrecognizedID, pid, 0)
		return
	}
	if effect := hostEvents[name]; effect != nil {
		effect(c.srv.world, te.ObjectID, te.Data)
	}
	_ = c.Send(&message.RecvEvent{GroupID: te.GroupID, EventID: te.EventID, Data: te.Data})
}

func handleSubscribeSystemEvent(c *Conn, pid uint32, req message.Request) {
	sub := req.(*message.SubscribeToSystemEvent)
	if !systemEvents[sub.EventName] {
		c.Exception(protocol.ExceptionNameUnrecognized, pid, 1)
		return
	}
	c.mu.Lock()
	_, dup := c.sysEvents[sub.EventID]
	if !dup {
		c.sysEvents[sub.EventID] = sub.EventName
	}
	c.mu.Unlock()
	if dup {
		c.Exception(protocol.ExceptionEventIDDuplicate, pid, 0)
	}
}

func handleCreateObject(c *Conn, pid uint32, req message.Request) {
	cr := req.(*message.AICreateNonATCAircraft)
	if strings.TrimSpace(cr.ContainerTitle) == "" {
		c.Exception(protocol.ExceptionCreateObjectFailed, pid, 0)
		return
	}
	id := c.srv.world.Spawn(cr.ContainerTitle, cr.TailNumber, cr.Position)
	c.logger.Debug("object created", zap.Uint32("object_id", id), zap.String("title", cr.ContainerTitle))
	_ = c.Send(&message.RecvAssignedObjectID{RequestID: cr.RequestID, ObjectID: id})
	c.srv.FireSystemEvent("ObjectAdded", id)
}

func handleReleaseControl(c *Conn, pid uint32, req message.Request) {
	rc := req.(*message.AIReleaseControl)
	if !c.srv.world.Release(rc.ObjectID) {
		c.Exception(protocol.ExceptionUnrecognizedID, pid, 0)
	}
}

func handleRemoveObject(c *Conn, pid uint32, req message.Request) {
	rm := req.(*message.AIRemoveObject)
	if !c.srv.world.Remove(rm.ObjectID) {
		c.Exception(protocol.ExceptionUnrecognizedID, pid, 0)
		return
	}
	c.srv.FireSystemEvent("ObjectRemoved", rm.ObjectID)
}
