package cmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/a11ylens/internal/bus"
	"github.com/nextlevelbuilder/a11ylens/internal/overlay"
	"github.com/nextlevelbuilder/a11ylens/internal/panel"
)

var sendTimeout time.Duration

// sendCmd publishes one bus command to a running inspect session, the way a
// panel button would.
func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one command to a running inspect session",
	}
	cmd.PersistentFlags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "request timeout")
	cmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "gateway websocket URL (default from config)")

	cmd.AddCommand(sendInspectorCmd())
	cmd.AddCommand(sendFocusCmd())
	cmd.AddCommand(sendLayerCmd())
	cmd.AddCommand(sendHighlightCmd())
	cmd.AddCommand(sendInfoCmd())
	cmd.AddCommand(sendCaptureCmd())
	return cmd
}

// withPanel connects, runs fn and closes the connection.
func withPanel(fn func(ctx context.Context, p *panel.Panel) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	p, err := connectPanel(ctx, cfg, "cli")
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(ctx, p)
}

func printSent(ev bus.Event) {
	fmt.Printf("sent %s (%s)\n", ev.Type(), ev.ID)
}

func sendInspectorCmd() *cobra.Command {
	verbs := map[string]bus.InspectorCommandKind{
		"start":         bus.InspectorStart,
		"stop":          bus.InspectorStop,
		"debug":         bus.InspectorToggleDebug,
		"deep":          bus.InspectorToggleDeepInspection,
		"click-through": bus.InspectorToggleClickThrough,
	}
	return &cobra.Command{
		Use:       "inspector <start|stop|debug|deep|click-through>",
		Short:     "Start, stop or toggle inspector modes",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"start", "stop", "debug", "deep", "click-through"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := verbs[args[0]]
			if !ok {
				return fmt.Errorf("unknown inspector command %q", args[0])
			}
			return withPanel(func(ctx context.Context, p *panel.Panel) error {
				ev, err := p.Inspector(ctx, kind)
				if err != nil {
					return err
				}
				printSent(ev)
				return nil
			})
		},
	}
}

func sendFocusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "focus <start|stop|toggle>",
		Short:     "Control the focus order visualizer",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"start", "stop", "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := bus.FocusOrderCommandKind(args[0])
			switch kind {
			case bus.FocusOrderStart, bus.FocusOrderStop, bus.FocusOrderToggle:
			default:
				return fmt.Errorf("unknown focus order command %q", args[0])
			}
			return withPanel(func(ctx context.Context, p *panel.Panel) error {
				ev, err := p.FocusOrder(ctx, kind)
				if err != nil {
					return err
				}
				printSent(ev)
				return nil
			})
		},
	}
}

func sendLayerCmd() *cobra.Command {
	var show, hide bool
	cmd := &cobra.Command{
		Use:   "layer <name>",
		Short: "Show, hide or flip an overlay layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if show && hide {
				return fmt.Errorf("--show and --hide are exclusive")
			}
			var visible *bool
			if show || hide {
				visible = &show
			}
			return withPanel(func(ctx context.Context, p *panel.Panel) error {
				ev, err := p.ToggleLayer(ctx, args[0], visible)
				if err != nil {
					return err
				}
				printSent(ev)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "make the layer visible")
	cmd.Flags().BoolVar(&hide, "hide", false, "hide the layer")
	return cmd
}

func sendHighlightCmd() *cobra.Command {
	var (
		h       bus.Highlight
		invalid bool
		border  string
	)
	cmd := &cobra.Command{
		Use:   "highlight <selector>",
		Short: "Draw or clear a highlight box",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h.Selector = args[0]
			h.IsValid = !invalid
			if border != "" {
				h.Styles = &bus.HighlightStyles{Border: border}
			}
			return withPanel(func(ctx context.Context, p *panel.Panel) error {
				ev, err := p.Highlight(ctx, h)
				if err != nil {
					return err
				}
				printSent(ev)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&h.Message, "message", "", "label text")
	cmd.Flags().StringVar(&h.Layer, "layer", overlay.LayerInspector, "overlay layer")
	cmd.Flags().BoolVar(&h.Clear, "clear", false, "remove the highlight instead")
	cmd.Flags().BoolVar(&invalid, "invalid", false, "use the invalid palette")
	cmd.Flags().StringVar(&border, "border", "", "CSS border override")
	return cmd
}

func sendInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <selector>",
		Short: "Print what the inspector knows about an element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPanel(func(ctx context.Context, p *panel.Panel) error {
				info, err := p.ElementInfo(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			})
		},
	}
}

func sendCaptureCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "capture <selector>",
		Short: "Save a PNG screenshot of an element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPanel(func(ctx context.Context, p *panel.Panel) error {
				res, err := p.Capture(ctx, args[0])
				if err != nil {
					return err
				}
				data, err := base64.StdEncoding.DecodeString(res.PNG)
				if err != nil {
					return fmt.Errorf("decode capture: %w", err)
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s (%d bytes, %.0fx%.0f)\n", out, len(data), res.Rect.Width, res.Rect.Height)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "element.png", "output file")
	return cmd
}
