package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"epichat-be/internal/bootstrap"
	"epichat-be/internal/mapper"
	"epichat-be/pkg/engine"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	chatSession string
	chatMode    string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Reads one message per line and prints the engine's reply. Lines starting with a
slash are commands: /mode <auto|guided|freeform>, /attach <reference>, /reset, /quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatSession == "" {
			chatSession = uuid.NewString()
		}
		hint, err := engine.ParseModeHint(chatMode)
		if err != nil {
			return err
		}

		return withContainer(cmd.Context(), func(c *bootstrap.Container) error {
			r := &repl{
				engine:  c.Engine,
				session: chatSession,
				mode:    hint,
				out:     cmd.OutOrStdout(),
			}
			fmt.Fprintf(r.out, "session %s (backend %s)\n", r.session, c.Backend.Name())
			return r.run(cmd, cmd.InOrStdin())
		})
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session id (default: a new one)")
	chatCmd.Flags().StringVarP(&chatMode, "mode", "m", "auto", "mode hint: auto, guided or freeform")
}

type repl struct {
	engine  *engine.Engine
	session string
	mode    engine.ModeHint
	out     io.Writer
}

func (r *repl) run(cmd *cobra.Command, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(r.out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			quit, err := r.line(cmd, line)
			if err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
		fmt.Fprint(r.out, "> ")
	}
	return scanner.Err()
}

func (r *repl) line(cmd *cobra.Command, line string) (bool, error) {
	ctx := cmd.Context()
	if !strings.HasPrefix(line, "/") {
		out, err := r.engine.HandleMessage(ctx, engine.Inbound{SessionID: r.session, Text: line, ModeHint: r.mode})
		if err != nil {
			return false, err
		}
		return false, renderOutbound(r.out, out, jsonFlag)
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return true, nil
	case "mode":
		hint, err := engine.ParseModeHint(arg)
		if err != nil {
			return false, err
		}
		r.mode = hint
		fmt.Fprintf(r.out, "mode hint: %s\n", modeLabel(hint))
	case "attach":
		schema, err := r.engine.AttachData(ctx, r.session, arg)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "attached %s\n", schema.Describe())
	case "reset":
		if err := r.engine.Reset(ctx, r.session); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "session cleared")
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
	return false, nil
}

func modeLabel(h engine.ModeHint) string {
	if h == engine.ModeAuto {
		return "auto"
	}
	return string(h)
}

// renderOutbound prints a reply with its stage line and artifact titles
func renderOutbound(w io.Writer, out *engine.Outbound, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(mapper.NewChatMapper().OutboundToResponse(out))
	}

	fmt.Fprintln(w, out.Reply)
	for _, a := range out.Artifacts {
		title := a.Title
		if title == "" {
			title = a.Kind
		}
		fmt.Fprintf(w, "  [%s] %s\n", a.Kind, title)
	}
	if out.Stage.Workflow != "" {
		fmt.Fprintf(w, "  (%s / %s", out.Stage.Workflow, out.Stage.Stage)
		if len(out.Stage.Options) > 0 {
			fmt.Fprintf(w, ": %s", strings.Join(out.Stage.Options, ", "))
		}
		fmt.Fprintln(w, ")")
	}
	if out.Superseded {
		fmt.Fprintln(w, "  (superseded)")
	}
	return nil
}
