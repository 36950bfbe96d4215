package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"garden-of-memory/pkg/garden"
)

// ReplayType is the configuration type token for the JSONL replay source.
const ReplayType = "replay"

// defaultReplayWorker attributes replayed proposals when none is configured.
const defaultReplayWorker = "ingestion"

// maxReplayLineBytes bounds one JSONL line.
const maxReplayLineBytes = 1 << 20

// ReplayConfig configures one JSONL replay source.
type ReplayConfig struct {
	// Path locates the JSONL file holding one fragment draft per line.
	Path string `json:"path"`
	// Worker attributes replayed proposals; empty selects "ingestion".
	Worker string `json:"worker"`
}

// replayLine is the JSONL wire form of one fragment draft.
type replayLine struct {
	Aspect     string   `json:"aspect"`
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence"`
	SourceRef  string   `json:"source_ref"`
	Keywords   []string `json:"keywords"`
}

// Replay proposes fragment drafts read from a JSONL file, one line per
// proposal, in file order.
//
// The source is finite: Start returns once the file is exhausted, so a garden
// fed only by replays drains and shuts down on its own. Lines that fail JSON
// decoding are logged and skipped; decodable drafts always reach the ledger,
// which records domain violations as rejected transactions. Only protocol
// misuse, context cancellation, or I/O failure stops a replay.
type Replay struct {
	name   string
	path   string
	worker string
	logger *slog.Logger
}

// NewReplay creates a replay source over one JSONL file.
func NewReplay(name, path, worker string, logger *slog.Logger) *Replay {
	if worker == "" {
		worker = defaultReplayWorker
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Replay{
		name:   name,
		path:   path,
		worker: worker,
		logger: logger,
	}
}

// NewReplayFromConfig creates a replay source from raw JSON configuration.
func NewReplayFromConfig(name string, config []byte, logger *slog.Logger) (*Replay, error) {
	var parsed ReplayConfig
	decoder := json.NewDecoder(bytes.NewReader(config))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode replay config: %w", err)
	}
	if parsed.Path == "" {
		return nil, fmt.Errorf("decode replay config: missing path")
	}

	return NewReplay(name, parsed.Path, parsed.Worker, logger), nil
}

// compile-time interface guard
var _ garden.Source = (*Replay)(nil)

// Name implements garden.Source.
func (r *Replay) Name() string { return r.name }

// Start implements garden.Source.
func (r *Replay) Start(ctx context.Context, proposer garden.Proposer) error {
	file, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLineBytes)

	var lineNo, proposed, committed, skipped int
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		draft, err := parseReplayLine(line)
		if err != nil {
			skipped++
			r.logger.Warn("skipping malformed replay line",
				"source", r.name,
				"line", lineNo,
				"error", err,
			)

			continue
		}

		record, err := proposer.Propose(
			ctx,
			garden.OperationInsertFragment,
			garden.TransactionPayload{Fragment: &draft},
			r.worker,
		)
		if err != nil {
			return fmt.Errorf("propose replay line %d: %w", lineNo, err)
		}
		proposed++
		if record.Committed() {
			committed++
		} else {
			r.logger.Warn("replay proposal rejected",
				"source", r.name,
				"line", lineNo,
				"reason", record.Reason,
			)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read replay file: %w", err)
	}

	r.logger.Info("replay complete",
		"source", r.name,
		"proposed", proposed,
		"committed", committed,
		"skipped", skipped,
	)

	return nil
}

// Shutdown implements garden.Source. Start owns the file handle.
func (r *Replay) Shutdown(context.Context) error { return nil }

// parseReplayLine decodes one JSONL fragment draft. Domain validation is the
// ledger's job; only wire-format failures are reported here.
func parseReplayLine(line []byte) (garden.FragmentDraft, error) {
	var parsed replayLine
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return garden.FragmentDraft{}, fmt.Errorf("decode line: %w", err)
	}

	return garden.FragmentDraft{
		Aspect:     garden.Aspect(parsed.Aspect),
		Content:    parsed.Content,
		Confidence: parsed.Confidence,
		SourceRef:  parsed.SourceRef,
		Keywords:   parsed.Keywords,
	}, nil
}
