package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simlink/bridge"
	"simlink/codec"
	"simlink/message"
	"simlink/protocol"
	"simlink/session"
)

// firstSystemEventID keeps system event IDs clear of mapped client events.
const firstSystemEventID = 100

type watchItem struct {
	kind    message.Kind
	payload any
}

// watchLine is one printed observation.
type watchLine struct {
	Kind    string `json:"kind" yaml:"kind"`
	Payload any    `json:"payload" yaml:"payload"`
}

func (c *cli) watchCmd() *cobra.Command {
	var (
		fieldSpecs   []string
		systemEvents []string
		period       string
		objectID     uint32
		count        int
		forward      bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream simulation variables and system events until interrupted",
		Example: `  simlink watch --field "PLANE ALTITUDE:feet:float64" --period second
  simlink watch --system-event Pause --system-event SimStart --bridge`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(fieldSpecs) == 0 && len(systemEvents) == 0 {
				return fmt.Errorf("nothing to watch: give --field or --system-event")
			}
			fields, err := parseFields(fieldSpecs)
			if err != nil {
				return err
			}
			p, err := message.ParsePeriod(period)
			if err != nil {
				return err
			}
			if p == message.PeriodNever || p == message.PeriodOnce {
				return fmt.Errorf("period %s does not stream; use get for a single read", p)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, closeFn, err := c.openSession(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			var fwd *bridge.Forwarder
			if forward || c.cfg.Bridge.Enabled {
				nc, err := bridge.Connect(c.cfg.Bridge.NATSURL, c.cfg.Session.AppName)
				if err != nil {
					return err
				}
				defer nc.Close()
				fwd = bridge.NewForwarder(nc, s.ID(), bridge.Options{
					Prefix: c.cfg.Bridge.SubjectPrefix,
					Logger: c.logger,
				})
			}

			subs := []*session.Subscription{s.Exceptions()}
			if len(systemEvents) > 0 {
				subs = append(subs, s.Subscribe(message.KindEvent))
				for i, name := range systemEvents {
					if _, err := s.SubscribeSystemEvent(ctx, firstSystemEventID+uint32(i), name); err != nil {
						return err
					}
				}
			}
			if len(fields) > 0 {
				if err := s.AddDataDefinition(ctx, cliDefinitionID, fields); err != nil {
					return err
				}
				sub, err := s.RequestData(ctx, cliDefinitionID, 1, objectID, p)
				if err != nil {
					return err
				}
				subs = append(subs, sub)
			}

			return c.watch(ctx, cmd.OutOrStdout(), s, subs, fwd, count)
		},
	}
	flags := cmd.Flags()
	flags.StringArrayVarP(&fieldSpecs, "field", "f", nil, "variable to stream as NAME:unit:type")
	flags.StringArrayVar(&systemEvents, "system-event", nil, "system event to report, e.g. Pause or 4sec")
	flags.StringVar(&period, "period", message.PeriodSecond.String(), "visual_frame, sim_frame or second")
	flags.Uint32Var(&objectID, "object", message.ObjectIDUser, "object ID, 0 for the user aircraft")
	flags.IntVar(&count, "count", 0, "stop after this many data records; 0 runs until interrupted")
	flags.BoolVar(&forward, "bridge", false, "also publish everything to NATS")
	return cmd
}

// watch prints everything subs deliver until ctx ends, the session closes,
// or count data records were printed.
func (c *cli) watch(ctx context.Context, w io.Writer, s *session.Session, subs []*session.Subscription, fwd *bridge.Forwarder, count int) error {
	items := make(chan watchItem)
	for _, sub := range subs {
		go func(sub *session.Subscription) {
			for {
				v, err := sub.Next(ctx)
				if err != nil {
					return
				}
				select {
				case items <- watchItem{kind: sub.Kind(), payload: v}:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}

	records := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			c.logger.Info("host ended the session")
			return nil
		case it := <-items:
			if fwd != nil {
				if err := fwd.Forward(it.kind, it.payload); err != nil {
					c.logger.Warn("bridge forward failed", zap.Error(err))
				}
			}
			if err := c.printLine(w, it); err != nil {
				return err
			}
			if _, ok := it.payload.(codec.Record); ok {
				records++
				if count > 0 && records >= count {
					return nil
				}
			}
		}
	}
}

func (c *cli) printLine(w io.Writer, it watchItem) error {
	line := watchLine{Kind: it.kind.String(), Payload: it.payload}
	switch p := it.payload.(type) {
	case codec.Record:
		line.Payload = reading{ObjectID: p.ObjectID, Values: p.Map()}
	case *protocol.ProtocolException:
		line.Payload = map[string]any{"code": p.Code.String(), "send_id": p.SendID, "index": p.Index}
	}
	if c.formatter.Type() == codec.CodecTypeYAML {
		if _, err := io.WriteString(w, "---\n"); err != nil {
			return err
		}
	}
	return c.print(w, line)
}
