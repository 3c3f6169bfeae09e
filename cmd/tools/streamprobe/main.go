// streamprobe sends a single message to a running agent service and
// prints every decoded event, for poking at the stream contract without
// a browser attached.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tasknet/taskgraph/internal/client/agent"
	chatmodel "github.com/tasknet/taskgraph/internal/model/chat"
	graphmodel "github.com/tasknet/taskgraph/internal/model/graph"
	"github.com/tasknet/taskgraph/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] no .env file, using system environment: %v", err)
	}

	baseURL := flag.String("url", "http://localhost:8000", "agent service base URL")
	message := flag.String("message", "", "user message to send")
	timeout := flag.Duration("timeout", 2*time.Minute, "request timeout")
	flag.Parse()

	if *message == "" {
		flag.Usage()
		log.Fatal("a -message is required")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	client := agent.New(agent.Config{BaseURL: *baseURL, Timeout: *timeout}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	history := []chatmodel.Message{{
		ID:        "probe-1",
		Role:      chatmodel.RoleUser,
		Content:   *message,
		CreatedAt: time.Now().UTC(),
	}}

	source, err := client.StreamTurn(ctx, history, graphmodel.Graph{})
	if err != nil {
		log.Fatalf("open stream: %v", err)
	}
	defer source.Close()

	for {
		ev, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Fatalf("stream failed: %v", err)
		}

		switch ev.Kind {
		case stream.KindToken:
			fmt.Printf("[token]    %q\n", ev.Text)
		case stream.KindThinking:
			fmt.Printf("[thinking] %q\n", ev.Text)
		case stream.KindReplace:
			fmt.Printf("[replace]  %q\n", ev.Text)
		case stream.KindGraphPatch:
			fmt.Printf("[patch]    action=%s node=%+v ids=%v\n", ev.Patch.Action, ev.Patch.Node, ev.Patch.NodeIDs)
		case stream.KindDone:
			fmt.Println("[done]")
		case stream.KindError:
			fmt.Printf("[error]    %s\n", ev.Message)
		}
	}
}
