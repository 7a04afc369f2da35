package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"repolens/internal/analysis"
	"repolens/internal/bootstrap"
	"repolens/internal/config"
	llmclient "repolens/internal/llm/client"
	"repolens/internal/repoctx"
	"repolens/internal/scan"
	"repolens/internal/util/jsonutil"
)

type analyzeOptions struct {
	repoURL     string
	branch      string
	token       string
	prompt      string
	promptFile  string
	system      string
	models      []string
	level       string
	structured  bool
	fake        bool
	raw         bool
	maxChars    int
	timeout     time.Duration
	temperature float32
	maxTokens   int
	outDir      string
}

func newAnalyzeCmd(g *globalFlags) *cobra.Command {
	o := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze [dir]",
		Short: "Ask the model chain about a repository",
		Long: `Build a context block from a local directory or a remote git repository,
send it with the prompt to the configured model chain and render the answer.

Models are tried in order; a failed or empty answer moves on to the next one.
Use --models to override the chain for a single run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, g, o, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.repoURL, "repo", "", "Clone and analyze this https:// or ssh:// git URL instead of a directory")
	f.StringVar(&o.branch, "branch", "", "Branch to clone with --repo")
	f.StringVar(&o.token, "token", "", "Access token for private repositories (default $GITHUB_TOKEN)")
	f.StringVarP(&o.prompt, "prompt", "p", "", "Question or task for the model")
	f.StringVar(&o.promptFile, "prompt-file", "", "Read the prompt from a file")
	f.StringVar(&o.system, "system", "", "Override the system instruction")
	f.StringSliceVar(&o.models, "models", nil, "Ordered provider:model candidates, overriding the level chain")
	f.StringVar(&o.level, "level", "middle", "Model level chain to use (low, middle, high)")
	f.BoolVar(&o.structured, "structured", false, "Request a JSON architecture summary")
	f.BoolVar(&o.fake, "fake", false, "Use offline fake models")
	f.BoolVar(&o.raw, "raw", false, "Print markdown without terminal rendering")
	f.IntVar(&o.maxChars, "max-chars", repoctx.DefaultMaxChars, "Context budget in characters")
	f.DurationVar(&o.timeout, "timeout", 0, "Bound on the whole model chain (default from config)")
	f.Float32Var(&o.temperature, "temperature", 0, "Sampling temperature")
	f.IntVar(&o.maxTokens, "max-output-tokens", 0, "Cap on generated tokens")
	f.StringVarP(&o.outDir, "out", "o", "", "Write the record and output to this directory")
	return cmd
}

func runAnalyze(cmd *cobra.Command, g *globalFlags, o *analyzeOptions, args []string) error {
	ctx := cmd.Context()
	if (len(args) == 0) == (o.repoURL == "") {
		return errors.New("give either a directory or --repo")
	}
	prompt, err := o.loadPrompt()
	if err != nil {
		return err
	}
	level, err := llmclient.ParseModelLevel(o.level)
	if err != nil {
		return err
	}

	overrides := map[string]string{}
	if o.fake {
		overrides["REPOLENS_FAKE_LLM"] = "1"
	}
	if cmd.Flags().Changed("max-chars") {
		overrides["REPOLENS_CONTEXT_MAX_CHARS"] = strconv.Itoa(o.maxChars)
	}
	if cmd.Flags().Changed("timeout") {
		overrides["REPOLENS_CALL_TIMEOUT"] = o.timeout.String()
	}
	cfg, err := config.LoadWith(overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := g.logger(cmd)
	env, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	scanOpts := scan.Options{Logger: logger}
	var (
		files  []repoctx.FileEntry
		repoID string
	)
	if o.repoURL != "" {
		token := o.token
		if token == "" {
			token = os.Getenv("GITHUB_TOKEN")
		}
		files, err = scan.LoadGit(ctx, scan.GitSource{URL: o.repoURL, Branch: o.branch, Token: token}, scanOpts)
		repoID = o.repoURL
	} else {
		files, err = scan.LoadDir(ctx, args[0], scanOpts)
		repoID = repoName(args[0])
	}
	if err != nil {
		return err
	}

	params := llmclient.Params{MaxOutputTokens: o.maxTokens}
	if cmd.Flags().Changed("temperature") {
		params.Temperature = llmclient.Float32(o.temperature)
	}
	res, err := env.Service.Analyze(ctx, analysis.Request{
		RepoID:     repoID,
		Files:      files,
		Prompt:     prompt,
		System:     o.system,
		Level:      level,
		Candidates: o.models,
		Params:     params,
		Structured: o.structured,
	})
	if err != nil {
		return err
	}

	if o.outDir != "" {
		if err := writeResult(o.outDir, res); err != nil {
			return err
		}
	}

	md := res.Output
	if res.Summary != nil {
		md = res.Summary.Markdown()
	}
	if !o.raw {
		if md, err = renderMarkdown(md); err != nil {
			return err
		}
	}
	fmt.Fprint(cmd.OutOrStdout(), md)
	fmt.Fprintf(cmd.ErrOrStderr(), "run %s: %s after %d attempt(s), %d file(s) included, %d omitted\n",
		res.ID, res.Model, res.Attempts, len(res.Included), len(res.Omitted))
	return nil
}

func (o *analyzeOptions) loadPrompt() (string, error) {
	prompt := o.prompt
	if o.promptFile != "" {
		if prompt != "" {
			return "", errors.New("--prompt and --prompt-file are mutually exclusive")
		}
		b, err := os.ReadFile(o.promptFile)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(b)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("a prompt is required (--prompt or --prompt-file)")
	}
	return prompt, nil
}

// writeResult stores the analysis record and its output under dir.
func writeResult(dir string, res *analysis.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	record, err := jsonutil.MarshalNoEscapeIndent(res.Analysis)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, res.ID+".json"), record, 0o644); err != nil {
		return err
	}
	name := res.ID + ".md"
	if res.Summary != nil {
		name = res.ID + ".summary.json"
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(res.Output), 0o644)
}

func repoName(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return filepath.Base(dir)
	}
	return filepath.Base(abs)
}
