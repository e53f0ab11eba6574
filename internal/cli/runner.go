package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/g960059/a2ui/internal/api"
	"github.com/g960059/a2ui/internal/appclient"
	"github.com/g960059/a2ui/internal/config"
)

type Runner struct {
	baseURL string
	client  *appclient.Client
	out     io.Writer
	errOut  io.Writer
	stdin   io.Reader
}

const maxPayloadBytes int64 = 1 << 20

func NewRunner(socketPath string, out, errOut io.Writer) *Runner {
	return newRunner("http://unix", appclient.New(socketPath), out, errOut)
}

func NewRunnerWithClient(baseURL string, client *http.Client, out, errOut io.Writer) *Runner {
	return newRunner(baseURL, appclient.NewWithClient(baseURL, client), out, errOut)
}

func newRunner(baseURL string, client *appclient.Client, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		out:     out,
		errOut:  errOut,
		stdin:   os.Stdin,
	}
}

// WithStdin replaces the reader used for "-" payload arguments.
func (r *Runner) WithStdin(in io.Reader) *Runner {
	r.stdin = in
	return r
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	socketPath, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if socketPath != "" && r.baseURL == "http://unix" {
		stdin := r.stdin
		*r = *NewRunner(socketPath, r.out, r.errOut)
		r.stdin = stdin
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	switch rest[0] {
	case "health":
		return r.runHealth(ctx, rest[1:])
	case "surfaces":
		return r.runSurfaces(ctx, rest[1:])
	case "surface":
		return r.runSurface(ctx, rest[1:])
	case "render":
		return r.runRender(ctx, rest[1:])
	case "data":
		return r.runData(ctx, rest[1:])
	case "send":
		return r.runSend(ctx, rest[1:])
	case "gather":
		return r.runGather(ctx, rest[1:])
	case "optimistic":
		return r.runOptimistic(ctx, rest[1:])
	case "action":
		return r.runAction(ctx, rest[1:])
	case "widget":
		return r.runWidget(ctx, rest[1:])
	case "journal":
		return r.runJournal(ctx, rest[1:])
	case "watch":
		return r.runWatch(ctx, rest[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

func parseGlobalArgs(args []string) (string, []string, error) {
	socket := config.DefaultConfig().SocketPath
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--socket" {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--socket requires value")
			}
			socket = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	return socket, rest, nil
}

// parseFlags parses a subcommand's flags. It reports false after printing
// the error, in which case the caller exits 2.
func (r *Runner) parseFlags(fs *flag.FlagSet, args []string) bool {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return false
	}
	return true
}

func (r *Runner) usage(msg string) int {
	_, _ = fmt.Fprintf(r.errOut, "usage: a2ui %s\n", msg)
	return 2
}

func (r *Runner) runHealth(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "output JSON")
	if !r.parseFlags(fs, args) {
		return 2
	}
	resp, err := r.client.Health(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(resp)
	}
	_, _ = fmt.Fprintf(r.out, "%s surfaces=%d subscribers=%d\n", resp.Status, resp.Surfaces, resp.Subscribers)
	return 0
}

func (r *Runner) runSurfaces(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("surfaces", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "output JSON")
	if !r.parseFlags(fs, args) {
		return 2
	}
	env, err := r.client.ListSurfaces(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(env)
	}
	for _, s := range env.Surfaces {
		_, _ = fmt.Fprintf(r.out, "%s\troot=%s\tcomponents=%d\tpending=%d\t%s\n",
			s.SurfaceID, s.RootComponentID, s.Components, s.PendingUpdates, shortFingerprint(s.Fingerprint))
	}
	return 0
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func (r *Runner) runSurface(ctx context.Context, args []string) int {
	if len(args) != 1 {
		return r.usage("surface <surface-id>")
	}
	env, err := r.client.GetSurface(ctx, args[0])
	if err != nil {
		return r.handleErr(err)
	}
	return r.printJSON(env)
}

func (r *Runner) runRender(ctx context.Context, args []string) int {
	if len(args) != 1 {
		return r.usage("render <surface-id>")
	}
	env, err := r.client.Render(ctx, args[0])
	if err != nil {
		return r.handleErr(err)
	}
	return r.printJSON(env.Tree)
}

func (r *Runner) runData(ctx context.Context, args []string) int {
	if len(args) < 1 || len(args) > 2 {
		return r.usage("data <surface-id> [path]")
	}
	path := ""
	if len(args) == 2 {
		path = args[1]
	}
	env, err := r.client.Data(ctx, args[0], path)
	if err != nil {
		return r.handleErr(err)
	}
	if !env.Defined {
		_, _ = fmt.Fprintf(r.errOut, "undefined: %s\n", path)
		return 1
	}
	return r.printJSON(env.Value)
}

func (r *Runner) runSend(ctx context.Context, args []string) int {
	if len(args) != 1 {
		return r.usage("send <file|->")
	}
	payload, err := r.readPayload(args[0])
	if err != nil {
		return r.handleErr(err)
	}
	resp, err := r.client.SendMessages(ctx, payload)
	if err != nil {
		return r.handleErr(err)
	}
	return r.printJSON(resp)
}

// readPayload reads a file, or stdin when name is "-".
func (r *Runner) readPayload(name string) ([]byte, error) {
	var src io.Reader
	if name == "-" {
		if r.stdin == nil {
			return nil, fmt.Errorf("stdin unavailable")
		}
		src = r.stdin
	} else {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close() //nolint:errcheck
		src = f
	}
	body, err := io.ReadAll(io.LimitReader(src, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(body)) > maxPayloadBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	return body, nil
}

func (r *Runner) runGather(ctx context.Context, args []string) int {
	if len(args) == 0 {
		return r.usage("gather <surface-id/element-id>...")
	}
	resp, err := r.client.Gather(ctx, args)
	if err != nil {
		return r.handleErr(err)
	}
	return r.printJSON(resp)
}

func (r *Runner) runOptimistic(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("optimistic", flag.ContinueOnError)
	surfaceID := fs.String("surface", "", "surface id")
	componentID := fs.String("component", "", "component id")
	changes := fs.String("changes", "{}", "JSON object of property changes")
	rollbackMS := fs.Int64("rollback-ms", 0, "rollback timeout in milliseconds")
	if !r.parseFlags(fs, args) {
		return 2
	}
	if *surfaceID == "" || *componentID == "" {
		return r.usage("optimistic --surface <id> --component <id> --changes <json>")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(*changes), &m); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: --changes: %v\n", err)
		return 2
	}
	resp, err := r.client.Optimistic(ctx, *surfaceID, api.OptimisticRequest{
		ComponentID: *componentID,
		Changes:     m,
		RollbackMS:  *rollbackMS,
	})
	if err != nil {
		return r.handleErr(err)
	}
	return r.printJSON(resp)
}

func (r *Runner) runAction(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("action", flag.ContinueOnError)
	surfaceID := fs.String("surface", "", "surface id")
	componentID := fs.String("component", "", "component id")
	actionID := fs.String("action", "", "widget action id")
	event := fs.String("event", "", "JSON object of event values")
	if !r.parseFlags(fs, args) {
		return 2
	}
	if *surfaceID == "" || *componentID == "" {
		return r.usage("action --surface <id> --component <id> [--action <id>] [--event <json>]")
	}
	req := api.ActionRequest{SurfaceID: *surfaceID, ComponentID: *componentID, ActionID: *actionID}
	if *event != "" {
		if err := json.Unmarshal([]byte(*event), &req.Event); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: --event: %v\n", err)
			return 2
		}
	}
	resp, err := r.client.Action(ctx, req)
	if err != nil {
		return r.handleErr(err)
	}
	return r.printJSON(resp)
}

func (r *Runner) runWidget(ctx context.Context, args []string) int {
	if len(args) == 0 {
		return r.usage("widget <put|get|list|delete>")
	}
	switch args[0] {
	case "put":
		if len(args) != 2 {
			return r.usage("widget put <file|->")
		}
		payload, err := r.readPayload(args[1])
		if err != nil {
			return r.handleErr(err)
		}
		env, err := r.client.PutWidget(ctx, payload)
		if err != nil {
			return r.handleErr(err)
		}
		return r.printJSON(env.Widget)
	case "get":
		fs := flag.NewFlagSet("widget get", flag.ContinueOnError)
		version := fs.String("version", "", "semver constraint")
		if !r.parseFlags(fs, args[1:]) {
			return 2
		}
		if fs.NArg() != 1 {
			return r.usage("widget get [--version <constraint>] <widget-id>")
		}
		env, err := r.client.GetWidget(ctx, fs.Arg(0), *version)
		if err != nil {
			return r.handleErr(err)
		}
		return r.printJSON(env.Widget)
	case "list":
		fs := flag.NewFlagSet("widget list", flag.ContinueOnError)
		jsonOut := fs.Bool("json", false, "output JSON")
		if !r.parseFlags(fs, args[1:]) {
			return 2
		}
		env, err := r.client.ListWidgets(ctx)
		if err != nil {
			return r.handleErr(err)
		}
		if *jsonOut {
			return r.printJSON(env)
		}
		for _, w := range env.Widgets {
			_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\n", w.WidgetID, w.Name, strings.Join(w.Versions, ","))
		}
		return 0
	case "delete":
		if len(args) != 2 {
			return r.usage("widget delete <widget-id>")
		}
		if err := r.client.DeleteWidget(ctx, args[1]); err != nil {
			return r.handleErr(err)
		}
		return 0
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown widget command: %s\n", args[0])
		return 2
	}
}

func (r *Runner) runJournal(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	surfaceID := fs.String("surface", "", "surface id")
	limit := fs.Int("limit", 0, "max entries")
	jsonOut := fs.Bool("json", false, "output JSON")
	if !r.parseFlags(fs, args) {
		return 2
	}
	env, err := r.client.Journal(ctx, appclient.JournalOptions{SurfaceID: *surfaceID, Limit: *limit})
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(env)
	}
	for _, e := range env.Entries {
		seq := "-"
		if e.Seq != nil {
			seq = fmt.Sprint(*e.Seq)
		}
		_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\t%s\tseq=%s\t%s\n",
			e.AppliedAt.Format("2006-01-02T15:04:05.000Z07:00"), e.EntryID, e.SurfaceID, e.MessageType, seq, e.Outcome)
	}
	return 0
}

// runWatch prints every stream frame as one JSON line.
func (r *Runner) runWatch(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	once := fs.Bool("once", false, "exit when the session ends")
	surfaceID := fs.String("surface", "", "only frames for this surface")
	if !r.parseFlags(fs, args) {
		return 2
	}
	enc := json.NewEncoder(r.out)
	err := r.client.StreamLoop(ctx, appclient.StreamLoopOptions{Once: *once}, func(f api.StreamFrame) error {
		if *surfaceID != "" && f.SurfaceID != *surfaceID {
			return nil
		}
		return enc.Encode(f)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return r.handleErr(err)
	}
	return 0
}

func (r *Runner) printJSON(v any) int {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = r.out.Write(b)
	_, _ = fmt.Fprintln(r.out)
	return 0
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: a2ui [--socket <path>] <health|surfaces|surface|render|data|send|gather|optimistic|action|widget|journal|watch> ...")
}
