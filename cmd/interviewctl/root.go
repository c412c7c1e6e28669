package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// fileConfig is the optional ~/.interviewctl.yaml.
type fileConfig struct {
	APIURL        string `yaml:"api_url"`
	Token         string `yaml:"token"`
	ClassifierURL string `yaml:"classifier_url"`
}

type options struct {
	configPath    string
	apiURL        string
	token         string
	classifierURL string
	output        string
	timeout       time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "interviewctl",
		Short:         "Inspect interview coach questions, history and classifier",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	home, _ := os.UserHomeDir()
	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", filepath.Join(home, ".interviewctl.yaml"), "config file")
	f.StringVar(&opts.apiURL, "api", "http://127.0.0.1:8080", "interview API base URL")
	f.StringVar(&opts.token, "token", "", "bearer token (default $INTERVIEW_TOKEN)")
	f.StringVar(&opts.classifierURL, "classifier", "http://127.0.0.1:8000", "classifier base URL")
	f.StringVarP(&opts.output, "output", "o", "text", "output format: text, json or yaml")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		newQuestionsCmd(opts),
		newListCmd(opts),
		newClassifyCmd(opts),
	)
	return root
}

// resolve fills unset flags from the environment and config file.
func (o *options) resolve(cmd *cobra.Command) error {
	switch o.output {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}

	fc, err := loadFileConfig(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if !flags.Changed("api") && fc.APIURL != "" {
		o.apiURL = fc.APIURL
	}
	if !flags.Changed("classifier") && fc.ClassifierURL != "" {
		o.classifierURL = fc.ClassifierURL
	}
	if o.token == "" {
		o.token = os.Getenv("INTERVIEW_TOKEN")
	}
	if o.token == "" {
		o.token = fc.Token
	}
	return nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

// render writes v as json or yaml, or calls text for the text format.
func (o *options) render(w io.Writer, v any, text func(io.Writer) error) error {
	switch o.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}
