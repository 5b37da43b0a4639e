package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rolloutd/rolloutd/internal/apiclient"
	"github.com/rolloutd/rolloutd/internal/domain"
)

const defaultServer = "http://localhost:7700"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "submit":
		err = commandSubmit(args)
	case "list":
		err = commandList(args)
	case "status":
		err = commandStatus(args)
	case "promote":
		err = commandAction(args, "promote")
	case "abort":
		err = commandAction(args, "abort")
	case "resume":
		err = commandAction(args, "resume")
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: rolloutctl <command> [flags]

commands:
  submit   -f <plan.yaml>        start a rollout from a plan file
  list                           list rollouts
  status   <id> [--watch]        show a rollout and its recent decisions
  promote  <id>                  force a paused rollout forward
  abort    <id>                  cancel a rollout and revert traffic
  resume   <id>                  return a paused rollout to evaluation

flags common to all commands:
  --server  rolloutd base URL (default http://localhost:7700)`)
}

func commandSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	server := fs.String("server", defaultServer, "rolloutd base URL")
	file := fs.String("f", "", "rollout plan file (YAML)")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("-f is required")
	}
	in, err := loadPlanFile(*file)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rollout, err := apiclient.New(*server).Submit(ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("rollout %s submitted: %s %s -> %s (%s)\n",
		rollout.ID, rollout.Service, rollout.Stable.Version, rollout.Candidate.Version, rollout.State)
	return nil
}

func commandList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	server := fs.String("server", defaultServer, "rolloutd base URL")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rollouts, err := apiclient.New(*server).List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSERVICE\tSTRATEGY\tSTABLE\tCANDIDATE\tSTAGE\tSTATE")
	for _, r := range rollouts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			r.ID, r.Service, r.Strategy, r.Stable.Version, r.Candidate.Version,
			r.CurrentStage+1, len(r.Stages), r.State)
	}
	return w.Flush()
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	server := fs.String("server", defaultServer, "rolloutd base URL")
	decisions := fs.Int("decisions", 10, "number of recent decisions to show")
	watch := fs.Bool("watch", false, "stream state changes until the rollout finishes")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: rolloutctl status <id>")
	}
	id := fs.Arg(0)
	client := apiclient.New(*server)

	if *watch {
		fmt.Printf("watching rollout %s\n", id)
		return client.Watch(context.Background(), id, func(r domain.Rollout) error {
			fmt.Printf("%s stage %d/%d state=%s", time.Now().Format(time.TimeOnly), r.CurrentStage+1, len(r.Stages), r.State)
			if r.LastDecision != "" {
				fmt.Printf(" (%s)", r.LastDecision)
			}
			fmt.Println()
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := client.Status(ctx, id, *decisions)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func commandAction(args []string, action string) error {
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	server := fs.String("server", defaultServer, "rolloutd base URL")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: rolloutctl %s <id>", action)
	}
	id := fs.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := apiclient.New(*server)
	var (
		rollout domain.Rollout
		err     error
	)
	switch action {
	case "promote":
		rollout, err = client.Promote(ctx, id)
	case "abort":
		rollout, err = client.Abort(ctx, id)
	case "resume":
		rollout, err = client.Resume(ctx, id)
	}
	if err != nil {
		return err
	}
	fmt.Printf("rollout %s: %s\n", rollout.ID, rollout.State)
	return nil
}
