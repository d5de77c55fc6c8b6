// Command storyforge-cli is the operator-facing tool spec.md §6 names:
// it wraps a JSON template naming a tool and its arguments in a full
// Envelope, publishes it on a subject, and prints the reply envelope.
// Exit code 0 means a reply arrived (even a tool_response.is_error one);
// non-zero means a transport or envelope-level failure.
//
// Usage:
//
//	storyforge-cli call -subject storyforge.orchestrator -template req.json [-tenant t1] [-timeout 30s]
//	storyforge-cli trail show trail.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/storyforge/pipeline/bus"
	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
)

// template mirrors the JSON file the operator supplies: a tool name and
// its arguments, nothing else. Everything envelope-shaped (request id,
// tenant, timestamps) is the CLI's job to fill in.
type template struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "call":
		os.Exit(runCall(os.Args[2:]))
	case "trail":
		os.Exit(runTrail(os.Args[2:]))
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: storyforge-cli call -subject SUBJECT -template FILE [-tenant TENANT] [-timeout DURATION]")
	fmt.Fprintln(os.Stderr, "       storyforge-cli trail show FILE")
}

func runCall(args []string) int {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	subject := fs.String("subject", "", "bus subject to publish the request on")
	templatePath := fs.String("template", "", "path to a JSON file naming a tool and its arguments")
	tenant := fs.String("tenant", "", "tenant id stamped on the request")
	busURL := fs.String("bus-url", "nats://localhost:4222", "bus connection URL")
	timeout := fs.Duration("timeout", 30*time.Second, "reply timeout")
	fs.Parse(args)

	if *subject == "" || *templatePath == "" {
		usage()
		return 2
	}

	raw, err := os.ReadFile(*templatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storyforge-cli: read template: %v\n", err)
		return 1
	}
	var tmpl template
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		fmt.Fprintf(os.Stderr, "storyforge-cli: parse template: %v\n", err)
		return 1
	}

	logger := platform.NoOpLogger{}
	b, err := bus.NewNATSBus(*busURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storyforge-cli: bus connect: %v\n", err)
		return 1
	}
	defer b.Close()

	req := domain.Wrap(domain.Meta{Tenant: *tenant, SourceService: "storyforge-cli"}, domain.Payload{
		ToolCall: &domain.ToolCall{Name: tmpl.Tool, Arguments: tmpl.Arguments},
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := b.Request(ctx, *subject, req, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storyforge-cli: transport error: %v\n", err)
		return 1
	}
	if reply.Error != nil {
		fmt.Fprintf(os.Stderr, "storyforge-cli: envelope error: %s\n", reply.Error.Error())
		return 1
	}

	out, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "storyforge-cli: encode reply: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func runTrail(args []string) int {
	if len(args) < 2 || args[0] != "show" {
		usage()
		return 2
	}
	raw, err := os.ReadFile(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "storyforge-cli: read trail: %v\n", err)
		return 1
	}
	var trail domain.Trail
	if err := json.Unmarshal(raw, &trail); err != nil {
		fmt.Fprintf(os.Stderr, "storyforge-cli: parse trail: %v\n", err)
		return 1
	}

	fmt.Printf("request %s  tenant=%s  nodes=%d  completed=%s\n",
		trail.RequestID, trail.Tenant, len(trail.DAG.Nodes), trail.CompletedAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Printf("%-22s %-12s %-24s %-10s %-10s %s\n", "SERVICE", "PHASE", "TOOL", "DURATION", "OUTCOME", "ERROR")
	for _, entry := range trail.InvocationLog {
		fmt.Printf("%-22s %-12s %-24s %-10s %-10s %s\n",
			entry.Service, entry.Phase, entry.Tool, entry.Duration, entry.Outcome, entry.Error)
	}
	return 0
}
