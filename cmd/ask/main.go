// Package main is a terminal client for the orchestration gateway. It
// drives the full conversation loop: ask, stream the answer as it arrives,
// show suggested follow-ups, and submit the next question.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/answerflow-ai/orchestrator/internal/backend"
	"github.com/answerflow-ai/orchestrator/internal/config"
	"github.com/answerflow-ai/orchestrator/internal/conversation"
	"github.com/answerflow-ai/orchestrator/internal/model"
	"github.com/answerflow-ai/orchestrator/internal/suggest"
	"github.com/answerflow-ai/orchestrator/pkg/logger"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "gateway base URL")
	resume := flag.String("resume", "", "query id of an existing conversation to resume")
	flag.Parse()

	log, err := logger.New("warn")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load()

	client := backend.New(*server, 30*time.Second, log)
	trigger := suggest.New(client, cfg.SuggestionSettleDelay, cfg.SuggestionTimeout, log)
	machine := conversation.New(conversation.Config{
		Backend:       client,
		Trigger:       trigger,
		StreamTimeout: cfg.StreamIdleTimeout,
		Logger:        log,
	})
	defer machine.Close()

	ctx := context.Background()

	queryID := *resume
	if queryID == "" {
		question := strings.TrimSpace(strings.Join(flag.Args(), " "))
		if question == "" {
			fmt.Fprintln(os.Stderr, "usage: ask [-server URL] <question>")
			os.Exit(2)
		}

		queryID, err = machine.StartConversation(ctx, question)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create query: %v\n", err)
			os.Exit(1)
		}
	}

	if err := machine.Load(ctx, queryID); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load conversation: %v\n", err)
		os.Exit(1)
	}

	updates, unsubscribe := machine.Subscribe()
	defer unsubscribe()

	go render(machine, updates)

	// Read follow-up questions until EOF. Blank lines are silently ignored,
	// same as the machine's own gating.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		question := scanner.Text()
		if err := machine.SubmitFollowup(ctx, question); err != nil {
			fmt.Fprintf(os.Stderr, "follow-up failed: %v\n", err)
		}
	}
}

// render prints conversation changes incrementally: question headers once,
// response text as it streams, suggestions when a batch lands.
func render(machine *conversation.Machine, updates <-chan struct{}) {
	printed := make(map[string]int)
	announced := make(map[string]bool)
	finished := make(map[string]bool)
	var shownBatch string

	draw := func() {
		view := machine.View()

		for _, turn := range view.Turns {
			if !announced[turn.ID] {
				announced[turn.ID] = true
				fmt.Printf("\nQ: %s\nA: ", turn.Question)
			}
			if n := printed[turn.ID]; n < len(turn.Response) {
				fmt.Print(turn.Response[n:])
				printed[turn.ID] = len(turn.Response)
			}
			if turn.Status != model.StatusProcessing && !finished[turn.ID] {
				finished[turn.ID] = true
				fmt.Println()
			}
		}

		if view.Suggestions != nil && view.Suggestions.TurnID != shownBatch {
			shownBatch = view.Suggestions.TurnID
			if len(view.Suggestions.Questions) > 0 {
				fmt.Println("\nSuggested follow-ups:")
				for i, q := range view.Suggestions.Questions {
					fmt.Printf("  %d. %s\n", i+1, q)
				}
			}
			fmt.Print("> ")
		}

		if view.Err != "" {
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", view.Err)
		}
	}

	draw()
	for range updates {
		draw()
	}
}
