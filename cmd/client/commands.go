package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/NicolasHaas/gotodo/pkg/client"
	"github.com/NicolasHaas/gotodo/pkg/model"
	"github.com/NicolasHaas/gotodo/pkg/protocol"
	pb "github.com/NicolasHaas/gotodo/pkg/protocol/pb"
)

type command struct {
	args int // required positional arguments
	run  func(ctx context.Context, c *client.Client, opts options, args []string) error
}

var commands = map[string]command{
	"list":     {0, cmdList},
	"create":   {1, cmdCreate},
	"complete": {1, cmdComplete},
	"delete":   {1, cmdDelete},
	"stats":    {0, cmdStats},
	"search":   {1, cmdSearch},
	"watch":    {0, cmdWatch},
}

func cmdList(ctx context.Context, c *client.Client, opts options, _ []string) error {
	req := pb.ListRequest{Priority: opts.priority, Limit: opts.limit}
	switch opts.completed {
	case "":
	case "true", "false":
		v := opts.completed == "true"
		req.Completed = &v
	default:
		return fmt.Errorf("--completed must be true or false")
	}
	todos, err := c.List(ctx, req)
	if err != nil {
		return err
	}
	printTodos(todos)
	return nil
}

func cmdCreate(ctx context.Context, c *client.Client, opts options, args []string) error {
	todo, err := c.Create(ctx, pb.CreateRequest{
		Title:       strings.Join(args, " "),
		Description: opts.description,
		Priority:    opts.priority,
		DueDate:     opts.due,
		Tags:        opts.tags,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created %s\n", todo.ID)
	return nil
}

func cmdComplete(ctx context.Context, c *client.Client, _ options, args []string) error {
	done := true
	todo, err := c.Update(ctx, pb.UpdateRequest{ID: args[0], Completed: &done})
	if err != nil {
		return err
	}
	fmt.Printf("completed %q\n", todo.Title)
	return nil
}

func cmdDelete(ctx context.Context, c *client.Client, _ options, args []string) error {
	if err := c.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func cmdStats(ctx context.Context, c *client.Client, _ options, _ []string) error {
	s, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "total\t%d\n", s.Total)
	fmt.Fprintf(w, "completed\t%d\n", s.Completed)
	fmt.Fprintf(w, "pending\t%d\n", s.Pending)
	fmt.Fprintf(w, "high / medium / low\t%d / %d / %d\n", s.HighPriority, s.MediumPriority, s.LowPriority)
	return w.Flush()
}

func cmdSearch(ctx context.Context, c *client.Client, opts options, args []string) error {
	todos, err := c.Search(ctx, pb.SearchRequest{Query: strings.Join(args, " "), Limit: opts.limit})
	if err != nil {
		return err
	}
	printTodos(todos)
	return nil
}

// cmdWatch prints broadcasts until ctx is cancelled or the server goes away.
func cmdWatch(ctx context.Context, c *client.Client, _ options, _ []string) error {
	fmt.Fprintln(os.Stderr, "watching for changes, press Ctrl-C to stop")
	for {
		env, err := c.NextEvent(ctx, protocol.TypeTodoCreated, protocol.TypeTodoUpdated, protocol.TypeTodoDeleted)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, client.ErrClosed):
			return errors.New("connection closed by server")
		case err != nil:
			return err
		}

		if env.Type == protocol.TypeTodoDeleted {
			var p pb.IDPayload
			if err := json.Unmarshal(env.Data, &p); err != nil {
				return err
			}
			fmt.Printf("deleted  %s\n", p.ID)
			continue
		}
		var p pb.TodoPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.Todo == nil {
			return fmt.Errorf("decode %s: %v", env.Type, err)
		}
		verb := "created"
		if env.Type == protocol.TypeTodoUpdated {
			verb = "updated"
		}
		fmt.Printf("%-8s %s  %s %s\n", verb, p.Todo.ID, checkbox(p.Todo), p.Todo.Title)
	}
}

func printTodos(todos []model.Todo) {
	if len(todos) == 0 {
		fmt.Println("no todos")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\t\tTITLE\tPRIORITY\tDUE\tTAGS")
	for i := range todos {
		t := &todos[i]
		due := ""
		if t.DueDate != nil {
			due = humanize.Time(*t.DueDate)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, checkbox(t), t.Title, t.Priority, due, strings.Join(t.Tags, ","))
	}
	_ = w.Flush()
}

func checkbox(t *model.Todo) string {
	if t.Completed {
		return "[x]"
	}
	return "[ ]"
}
