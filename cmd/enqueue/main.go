package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dkrylov/metapipe/internal/config"
	"github.com/dkrylov/metapipe/internal/core/domain"
	natsqueue "github.com/dkrylov/metapipe/internal/infrastructure/queue/nats"
	"github.com/dkrylov/metapipe/internal/observability/logging"
)

// enqueue publishes one batch-run request and exits. Document ids come from the
// arguments; display names, when supplied, align positionally with the ids.
func main() {
	runID := flag.String("run-id", "", "run id; generated by the worker when empty")
	names := flag.String("names", "", "comma-separated document names aligned with the ids")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: enqueue [flags] <document-id> [<document-id> ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	ids := flag.Args()
	if len(ids) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var nameList []string
	if *names != "" {
		nameList = strings.Split(*names, ",")
	}
	refs := make([]domain.DocumentRef, 0, len(ids))
	for i, id := range ids {
		ref := domain.DocumentRef{ID: id, Name: id}
		if i < len(nameList) {
			ref.Name = strings.TrimSpace(nameList[i])
		}
		refs = append(refs, ref)
	}

	cfg := config.Load()
	logger := logging.NewJSONLogger("metapipe-enqueue", cfg.LogLevel)

	queue, err := natsqueue.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		log.Fatalf("connect queue: %v", err)
	}
	defer queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := domain.RunRequest{RunID: *runID, Refs: refs}
	if err := queue.PublishRunRequested(ctx, req); err != nil {
		log.Fatalf("publish run request: %v", err)
	}
	logger.Info("run_requested", "run_id", req.RunID, "documents", len(refs), "subject", cfg.NATSSubject)
}
