package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var topics = map[string][]string{
	"astronomy": {
		"The telescope tracked the faint comet across the northern sky.",
		"Astronomers measured the redshift of a distant spiral galaxy.",
		"A red giant star swells as its core exhausts hydrogen fuel.",
		"The orbit of the moon slowly widens because of tidal friction.",
		"Jupiter's great red spot is a storm larger than the earth.",
		"Pulsars emit beams of radio waves with clockwork regularity.",
		"The observatory dome opened as the nebula rose above the horizon.",
		"Neutron stars pack more than a solar mass into a city-sized sphere.",
	},
	"cooking": {
		"Simmer the tomato sauce with garlic and fresh basil for an hour.",
		"Knead the bread dough until it turns smooth and elastic.",
		"Sear the steak in a hot cast iron pan with butter and thyme.",
		"Whisk the egg yolks with sugar before folding in the cream.",
		"Roast the vegetables with olive oil, salt and rosemary.",
		"Let the risotto rest for two minutes before serving with parmesan.",
		"Blanch the green beans and shock them in ice water.",
		"Caramelize the onions slowly over low heat for deep flavor.",
	},
}

func writeTopic(t *testing.T, path, topic string, seed uint64) {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed+1))
	sentences := topics[topic]
	var b strings.Builder
	for range 40 {
		b.WriteString(sentences[rng.IntN(len(sentences))])
		b.WriteByte(' ')
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

type workspace struct {
	root   string
	corpus string
	cores  string
}

// newWorkspace builds a two-category corpus and points the environment at it.
func newWorkspace(t *testing.T, compressor string) workspace {
	t.Helper()
	root := t.TempDir()
	ws := workspace{
		root:   root,
		corpus: filepath.Join(root, "corpus"),
		cores:  filepath.Join(root, "cores"),
	}
	seed := uint64(1)
	for _, topic := range []string{"astronomy", "cooking"} {
		for i := range 4 {
			writeTopic(t, filepath.Join(ws.corpus, topic, fmt.Sprintf("%s_%d.txt", topic, i)), topic, seed)
			seed++
		}
	}

	env := map[string]string{
		"CORPUS_ROOT":        ws.corpus,
		"CANDIDATE_ROOT":     "",
		"CORES_DIR":          ws.cores,
		"CHECKPOINT_DIR":     filepath.Join(root, "checkpoints"),
		"SCRATCH_DIR":        root,
		"COMPRESSOR":         compressor,
		"SEVENZIP_PATH":      "",
		"WORKERS":            "2",
		"CORE_SIZE":          "",
		"REFINE_TARGET_SIZE": "",
		"REFINE_SEED":        "",
		"POSTGRES_DSN":       "",
		"NATS_URL":           "",
		"METRICS_ADDR":       "",
		"LOG_LEVEL":          "error",
	}
	for key, value := range env {
		t.Setenv(key, value)
	}
	return ws
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestBuildClassifyEvaluateRefine(t *testing.T) {
	ws := newWorkspace(t, "zstd")

	code, out, errOut := run(t, "build-cores", "--size", "2")
	if code != exitOK {
		t.Fatalf("build-cores exit %d: %s", code, errOut)
	}
	for _, want := range []string{"astronomy\t2\t4", "cooking\t2\t4"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in build-cores output:\n%s", want, out)
		}
	}
	for _, name := range []string{"astronomy.tar.zst", "cooking.tar.zst"} {
		if _, err := os.Stat(filepath.Join(ws.cores, name)); err != nil {
			t.Fatalf("expected core archive %s: %v", name, err)
		}
	}

	query := filepath.Join(ws.root, "query.txt")
	writeTopic(t, query, "astronomy", 99)
	code, out, errOut = run(t, "classify", query)
	if code != exitOK {
		t.Fatalf("classify exit %d: %s", code, errOut)
	}
	if out != "astronomy\n" {
		t.Fatalf("expected astronomy, got %q", out)
	}

	code, out, _ = run(t, "classify", "--json", query)
	if code != exitOK || !strings.Contains(out, `"category": "astronomy"`) {
		t.Fatalf("expected JSON verdict, exit %d:\n%s", code, out)
	}

	workbook := filepath.Join(ws.root, "report.xlsx")
	code, out, errOut = run(t, "evaluate", "--xlsx", workbook)
	if code != exitOK {
		t.Fatalf("evaluate exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "accuracy 100.00% (8/8)") {
		t.Fatalf("expected perfect accuracy on separable topics:\n%s", out)
	}
	if _, err := os.Stat(workbook); err != nil {
		t.Fatalf("expected workbook: %v", err)
	}

	code, out, errOut = run(t, "refine", "--category", "cooking", "--target", "3")
	if code != exitOK {
		t.Fatalf("refine exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "cooking: ") || !strings.Contains(out, "core: ") {
		t.Fatalf("unexpected refine output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(ws.root, "checkpoints", "checkpoint_cooking.json")); !os.IsNotExist(err) {
		t.Fatalf("expected checkpoint to be removed after completion, stat err=%v", err)
	}
}

func TestClassifyUndeterminedExitsWithTwo(t *testing.T) {
	ws := newWorkspace(t, "7z")
	t.Setenv("SEVENZIP_PATH", filepath.Join(ws.root, "missing", "7z"))
	if err := os.MkdirAll(ws.cores, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"astronomy.7z", "cooking.7z"} {
		if err := os.WriteFile(filepath.Join(ws.cores, name), []byte("placeholder"), 0o644); err != nil {
			t.Fatalf("write core: %v", err)
		}
	}
	query := filepath.Join(ws.root, "query.txt")
	writeTopic(t, query, "cooking", 7)

	code, out, errOut := run(t, "classify", query)
	if code != exitUndetermined {
		t.Fatalf("expected exit %d, got %d (stderr: %s)", exitUndetermined, code, errOut)
	}
	if out != "" {
		t.Fatalf("expected no category on stdout, got %q", out)
	}
	if !strings.Contains(errOut, "astronomy:") || !strings.Contains(errOut, "cooking:") {
		t.Fatalf("expected per-core failures on stderr:\n%s", errOut)
	}

	entries, err := os.ReadDir(ws.root)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "probe-") {
			t.Fatalf("leaked scratch dir %s", entry.Name())
		}
	}
}

func TestClassifyInterruptedExitsWithOne(t *testing.T) {
	ws := newWorkspace(t, "7z")
	t.Setenv("SEVENZIP_PATH", filepath.Join(ws.root, "missing", "7z"))
	if err := os.MkdirAll(ws.cores, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"astronomy.7z", "cooking.7z"} {
		if err := os.WriteFile(filepath.Join(ws.cores, name), []byte("placeholder"), 0o644); err != nil {
			t.Fatalf("write core: %v", err)
		}
	}
	query := filepath.Join(ws.root, "query.txt")
	writeTopic(t, query, "cooking", 7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout, stderr bytes.Buffer
	code := execute(ctx, []string{"classify", query}, &stdout, &stderr)
	if code != exitFailure {
		t.Fatalf("expected exit %d after cancellation, got %d (stderr: %s)", exitFailure, code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "interrupted") {
		t.Fatalf("expected interruption on stderr, got %q", stderr.String())
	}
}

func TestClassifyMissingFileExitsWithOne(t *testing.T) {
	ws := newWorkspace(t, "zstd")

	code, _, errOut := run(t, "classify", filepath.Join(ws.root, "absent.txt"))
	if code != exitFailure {
		t.Fatalf("expected exit %d, got %d", exitFailure, code)
	}
	if !strings.Contains(errOut, "invalid input") {
		t.Fatalf("expected invalid input error, got %q", errOut)
	}
}

func TestClassifyWithoutCoresExitsWithOne(t *testing.T) {
	ws := newWorkspace(t, "zstd")
	query := filepath.Join(ws.root, "query.txt")
	writeTopic(t, query, "cooking", 3)

	if code, _, _ := run(t, "classify", query); code != exitFailure {
		t.Fatalf("expected exit %d without cores, got %d", exitFailure, code)
	}
}

func TestRefineRequiresExactlyOneTarget(t *testing.T) {
	newWorkspace(t, "zstd")

	for _, args := range [][]string{
		{"refine"},
		{"refine", "--category", "cooking", "--worst"},
	} {
		code, _, errOut := run(t, args...)
		if code != exitFailure || !strings.Contains(errOut, "exactly one of") {
			t.Fatalf("%v: expected usage error, got exit %d: %s", args, code, errOut)
		}
	}
}

func TestHistoryRequiresPostgres(t *testing.T) {
	newWorkspace(t, "zstd")

	code, _, errOut := run(t, "history")
	if code != exitFailure || !strings.Contains(errOut, "POSTGRES_DSN") {
		t.Fatalf("expected missing DSN error, got exit %d: %s", code, errOut)
	}
}

func TestExtractPDFEmptyTree(t *testing.T) {
	ws := newWorkspace(t, "zstd")
	in := filepath.Join(ws.root, "pdfs")
	if err := os.MkdirAll(in, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	code, out, errOut := run(t, "extract-pdf", "--in", in, "--out", filepath.Join(ws.root, "txt"))
	if code != exitOK {
		t.Fatalf("extract-pdf exit %d: %s", code, errOut)
	}
	if strings.TrimSpace(out) != "converted 0, skipped 0, failed 0" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfigFileIsValidated(t *testing.T) {
	ws := newWorkspace(t, "")
	path := filepath.Join(ws.root, "config.yaml")
	if err := os.WriteFile(path, []byte("compressor: brotli\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, _, errOut := run(t, "--config", path, "build-cores")
	if code != exitFailure || !strings.Contains(errOut, "unknown compressor") {
		t.Fatalf("expected config validation error, got exit %d: %s", code, errOut)
	}
}

func TestPrinterStyledTable(t *testing.T) {
	var buf bytes.Buffer
	p := printer{w: &buf, styled: true}
	p.table([]string{"category", "accuracy"}, [][]string{{"astronomy", "100.00%"}})

	out := buf.String()
	if !strings.Contains(out, "astronomy") || !strings.Contains(out, "accuracy") {
		t.Fatalf("expected cells in styled table:\n%s", out)
	}
	if !strings.Contains(out, "╭") {
		t.Fatalf("expected rounded border in styled table:\n%s", out)
	}
}
