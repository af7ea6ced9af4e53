package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"simlink/codec"
	"simlink/message"
	"simlink/protocol"
	"simlink/session"
)

const cliDefinitionID = 1

func (c *cli) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Open a session and print what the host reports about itself",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, closeFn, err := c.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return c.print(cmd.OutOrStdout(), s.Info())
		},
	}
}

// reading is what get prints for one record.
type reading struct {
	ObjectID uint32         `json:"object_id" yaml:"object_id"`
	Values   map[string]any `json:"values" yaml:"values"`
}

func (c *cli) getCmd() *cobra.Command {
	var (
		fieldSpecs []string
		objectID   uint32
	)
	cmd := &cobra.Command{
		Use:     "get --field NAME:unit:type [--field ...]",
		Short:   "Read simulation variables once",
		Example: `  simlink get --field "PLANE ALTITUDE:feet:float64" --field "TITLE::string256"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields, err := parseFields(fieldSpecs)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, closeFn, err := c.openSession(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := s.AddDataDefinition(ctx, cliDefinitionID, fields); err != nil {
				return err
			}
			rec, err := s.RequestOnce(ctx, cliDefinitionID, 1, objectID)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), reading{ObjectID: rec.ObjectID, Values: rec.Map()})
		},
	}
	cmd.Flags().StringArrayVarP(&fieldSpecs, "field", "f", nil, "variable to read as NAME:unit:type")
	cmd.Flags().Uint32Var(&objectID, "object", message.ObjectIDUser, "object ID, 0 for the user aircraft")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func (c *cli) setCmd() *cobra.Command {
	var (
		objectID uint32
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:     "set NAME:unit:type=VALUE...",
		Short:   "Write simulation variables",
		Example: `  simlink set "PLANE ALTITUDE:feet:float64=3000" "IS SLEW ACTIVE:bool:int32=1"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := make([]codec.Field, 0, len(args))
			values := make([]any, 0, len(args))
			for _, arg := range args {
				f, v, err := parseAssignment(arg)
				if err != nil {
					return err
				}
				fields = append(fields, f)
				values = append(values, v)
			}

			ctx := cmd.Context()
			s, closeFn, err := c.openSession(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			exceptions := s.Exceptions()
			defer exceptions.Cancel()
			if err := s.AddDataDefinition(ctx, cliDefinitionID, fields); err != nil {
				return err
			}
			packetID, err := s.SetData(ctx, cliDefinitionID, objectID, values)
			if err != nil {
				return err
			}
			if err := awaitException(ctx, exceptions, wait, packetID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "set %d variable(s) on object %d\n", len(fields), objectID)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&objectID, "object", message.ObjectIDUser, "object ID, 0 for the user aircraft")
	cmd.Flags().DurationVar(&wait, "wait", 300*time.Millisecond, "how long to wait for a host exception")
	return cmd
}

func (c *cli) eventCmd() *cobra.Command {
	var (
		objectID uint32
		value    uint32
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:     "event NAME",
		Short:   "Fire a host event at an object",
		Example: "  simlink event LANDING_LIGHTS_TOGGLE",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, closeFn, err := c.openSession(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			exceptions := s.Exceptions()
			defer exceptions.Cancel()
			const clientEventID = 1
			mapID, err := s.MapEvent(ctx, clientEventID, args[0])
			if err != nil {
				return err
			}
			sendID, err := s.TransmitEvent(ctx, objectID, clientEventID, value, message.PriorityHighest, message.EventFlagGroupIDIsPriority)
			if err != nil {
				return err
			}
			if err := awaitException(ctx, exceptions, wait, mapID, sendID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to object %d\n", args[0], objectID)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&objectID, "object", message.ObjectIDUser, "object ID, 0 for the user aircraft")
	cmd.Flags().Uint32Var(&value, "value", 0, "event data")
	cmd.Flags().DurationVar(&wait, "wait", 300*time.Millisecond, "how long to wait for a host exception")
	return cmd
}

// awaitException waits up to wait for an exception quoting one of packetIDs.
// Hosts acknowledge fire-and-forget requests only by failing them, so a
// quiet wait means success.
func awaitException(ctx context.Context, sub *session.Subscription, wait time.Duration, packetIDs ...uint32) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for {
		v, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		exc, ok := v.(*protocol.ProtocolException)
		if !ok {
			continue
		}
		for _, id := range packetIDs {
			if id != 0 && exc.SendID == id {
				return exc
			}
		}
	}
}

func parseFields(specs []string) ([]codec.Field, error) {
	fields := make([]codec.Field, 0, len(specs))
	for _, spec := range specs {
		f, err := codec.ParseField(spec)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// parseAssignment splits "NAME:unit:type=VALUE" and converts VALUE to the
// field's type.
func parseAssignment(arg string) (codec.Field, any, error) {
	spec, raw, ok := strings.Cut(arg, "=")
	if !ok {
		return codec.Field{}, nil, fmt.Errorf("assignment %q: want NAME:unit:type=VALUE", arg)
	}
	f, err := codec.ParseField(spec)
	if err != nil {
		return codec.Field{}, nil, err
	}
	if f.Type.IsString() {
		return f, raw, nil
	}
	switch f.Type {
	case codec.DataTypeInt32, codec.DataTypeInt64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return codec.Field{}, nil, fmt.Errorf("assignment %q: %w", arg, err)
		}
		return f, n, nil
	default:
		x, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return codec.Field{}, nil, fmt.Errorf("assignment %q: %w", arg, err)
		}
		return f, x, nil
	}
}
