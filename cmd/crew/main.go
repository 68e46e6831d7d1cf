// Command crew is the terminal client for a crewrun server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jdziat/crewrun/client"
	"github.com/jdziat/crewrun/pkg/config"
	"github.com/jdziat/crewrun/pkg/contextbuf"
	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/logging"
	"github.com/jdziat/crewrun/pkg/offline"
	"github.com/jdziat/crewrun/pkg/schedule"
	"github.com/jdziat/crewrun/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "crew: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: crew <command> [args]")
	fmt.Println("  health                    - check the server and report offline mode")
	fmt.Println("  create <goal> [dir]       - start a project with the standard plan and watch it")
	fmt.Println("  list                      - list projects")
	fmt.Println("  get <job_id>              - show one project")
	fmt.Println("  watch <job_id>            - follow a project's progress")
	fmt.Println("  replay <index> [job_id]   - replay one task of the plan")
	fmt.Println("  reset [all|short|long|entity] - reset agent memory")
	fmt.Println("  chat                      - interactive chat (/compact, /stats, /quit)")
	fmt.Println("  prune                     - prune the offline cache")
}

func run(ctx context.Context, cmd string, args []string) error {
	cfg, err := config.Load(os.Getenv("CREWRUN_CONFIG"))
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: "text", Output: "stderr"})
	if err != nil {
		return err
	}
	defer closer.Close()

	cache, err := offline.Open(cfg.Client.CachePath, offline.WithLogger(logger))
	if err != nil {
		return err
	}
	defer cache.Close()

	c := client.New(cfg.Client.ServerURL,
		client.WithCache(cache),
		client.WithTimeout(cfg.Client.Timeout),
		client.WithLogger(logger),
		client.WithBuffer(contextbuf.New(
			contextbuf.WithMaxTokens(cfg.Client.MaxTokens),
			contextbuf.WithCompactRatio(cfg.Client.CompactRatio),
			contextbuf.WithLogger(logger),
		)),
		client.WithChatHistory(contextbuf.ChatHistory{
			MaxMessages: cfg.Client.ChatMaxMessages,
			KeepRecent:  cfg.Client.ChatKeepRecent,
		}),
	)

	switch cmd {
	case "health":
		if err := c.CheckConnectivity(ctx); err != nil {
			fmt.Println("offline:", err)
			return nil
		}
		fmt.Println("online:", cfg.Client.ServerURL)
		return nil
	case "create":
		if len(args) < 1 {
			return errors.New("usage: crew create <goal> [codebase_dir]")
		}
		req := server.ProjectRequest{ProjectGoal: args[0], Memory: true, NonInteractive: true}
		if len(args) > 1 {
			req.CodebaseDir = args[1]
		}
		resp, err := c.CreateProject(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("Project %s queued\n", resp.JobID)
		return watch(ctx, c, resp.JobID)
	case "list":
		jobs, err := c.ListProjects(ctx)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			fmt.Printf("%s  %-12s %3d%%  %s\n", j.JobID, j.Status, j.Progress, j.ProjectGoal)
		}
		return nil
	case "get":
		if len(args) < 1 {
			return errors.New("usage: crew get <job_id>")
		}
		job, err := c.GetProject(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(job)
	case "watch":
		if len(args) < 1 {
			return errors.New("usage: crew watch <job_id>")
		}
		return watch(ctx, c, args[0])
	case "replay":
		if len(args) < 1 {
			return errors.New("usage: crew replay <index> [job_id]")
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("task index: %w", err)
		}
		req := server.ReplayRequest{TaskIndex: idx}
		if len(args) > 1 {
			req.JobID = args[1]
		}
		resp, err := c.ReplayTask(ctx, req)
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return watch(ctx, c, resp.JobID)
	case "reset":
		memoryType := "all"
		if len(args) > 0 {
			memoryType = args[0]
		}
		if err := c.ResetMemory(ctx, memoryType); err != nil {
			return err
		}
		fmt.Printf("Reset %s memory\n", memoryType)
		return nil
	case "chat":
		return chat(ctx, c, cfg)
	case "prune":
		n, err := c.PruneCache(ctx, cfg.Client.CacheMaxAge)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d cached responses\n", n)
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func watch(ctx context.Context, c *client.Client, jobID string) error {
	return c.Watch(ctx, jobID, func(ev core.ProgressEvent) error {
		fmt.Printf("[%-12s %3d%%] %s\n", ev.Status, ev.Progress, ev.Message)
		if ev.Error != nil {
			fmt.Printf("  error (%s): %s\n", ev.Error.Kind, ev.Error.Message)
		}
		if ev.Result != nil {
			for _, f := range ev.Result.Incomplete {
				fmt.Printf("  incomplete: %s after %d attempts: %s\n", f.TaskID, f.Attempts, f.Message)
			}
		}
		return nil
	})
}

func chat(ctx context.Context, c *client.Client, cfg *config.Config) error {
	if err := c.CheckConnectivity(ctx); err != nil {
		fmt.Println("Server unreachable, answering from the offline cache.")
	}
	if cfg.Client.CachePruneSchedule != "" {
		if s, err := schedule.Parse(cfg.Client.CachePruneSchedule); err == nil {
			go c.RunCacheMaintenance(ctx, s, cfg.Client.CacheMaxAge)
		}
	}

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/compact":
			if c.Compact() {
				fmt.Println("Context compacted.")
			} else {
				fmt.Println("Nothing to compact.")
			}
			continue
		case "/stats":
			_ = printJSON(c.Buffer().Stats())
			continue
		}

		reply, err := c.Chat(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chat failed: %v\n", err)
			continue
		}
		fmt.Println(reply.Text)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
