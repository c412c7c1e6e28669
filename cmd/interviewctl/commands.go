package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"text/tabwriter"

	"github.com/ashureev/interview-coach/internal/domain"
	"github.com/ashureev/interview-coach/internal/inference"
	"github.com/ashureev/interview-coach/internal/persist"
	"github.com/ashureev/interview-coach/internal/questions"
	"github.com/spf13/cobra"
)

func newQuestionsCmd(opts *options) *cobra.Command {
	var role, level string
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Print the prompts generated for a role and level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			qs := questions.Generate(role, level)
			return opts.render(cmd.OutOrStdout(), qs, func(w io.Writer) error {
				for i, q := range qs {
					if _, err := fmt.Fprintf(w, "%d. %s\n", i+1, q); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "job role")
	cmd.Flags().StringVar(&level, "level", "Intermediate", "Beginner, Intermediate or Advanced")
	return cmd
}

type interviewRow struct {
	ID                string  `json:"id" yaml:"id"`
	Timestamp         string  `json:"timestamp" yaml:"timestamp"`
	JobRole           string  `json:"job_role" yaml:"job_role"`
	InterviewName     string  `json:"interview_name,omitempty" yaml:"interview_name,omitempty"`
	Level             string  `json:"level,omitempty" yaml:"level,omitempty"`
	Samples           int     `json:"samples" yaml:"samples"`
	OverallConfidence float64 `json:"overall_confidence" yaml:"overall_confidence"`
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored interviews for the token's user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.token == "" {
				return errors.New("a token is required: pass --token or set INTERVIEW_TOKEN")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			interviews, err := persist.NewClient(opts.apiURL, opts.token, opts.timeout).List(ctx)
			if err != nil {
				return fmt.Errorf("list interviews: %w", err)
			}

			rows := make([]interviewRow, 0, len(interviews))
			for _, iv := range interviews {
				rows = append(rows, interviewRow{
					ID:                iv.ID,
					Timestamp:         domain.FormatTimestamp(iv.Timestamp),
					JobRole:           iv.JobRole,
					InterviewName:     iv.InterviewName,
					Level:             iv.Level,
					Samples:           len(iv.ConfidenceData),
					OverallConfidence: iv.OverallConfidence,
				})
			}
			return opts.render(cmd.OutOrStdout(), rows, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIMESTAMP\tROLE\tLEVEL\tSAMPLES\tCONFIDENCE")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f%%\n", r.Timestamp, r.JobRole, r.Level, r.Samples, r.OverallConfidence)
				}
				return tw.Flush()
			})
		},
	}
}

type classifyOutput struct {
	Emotion    string        `json:"emotion,omitempty" yaml:"emotion,omitempty"`
	Confidence float64       `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Faces      []domain.Face `json:"faces,omitempty" yaml:"faces,omitempty"`
}

func newClassifyCmd(opts *options) *cobra.Command {
	var faces bool
	cmd := &cobra.Command{
		Use:   "classify IMAGE",
		Short: "Send one JPEG or PNG image to the classifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readImage(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			client := inference.NewClient(opts.classifierURL, opts.timeout)
			var out classifyOutput
			if faces {
				out.Faces, err = client.ClassifyFaces(ctx, img)
			} else {
				var r domain.EmotionResult
				r, err = client.Classify(ctx, img)
				out.Emotion, out.Confidence = r.Emotion, r.Confidence
			}
			if err != nil {
				return err
			}

			return opts.render(cmd.OutOrStdout(), out, func(w io.Writer) error {
				if !faces {
					_, err := fmt.Fprintf(w, "%s %.2f%%\n", out.Emotion, domain.RoundTo2(out.Confidence*100))
					return err
				}
				for _, f := range out.Faces {
					if _, err := fmt.Fprintf(w, "%s %.2f%% at (%d,%d %dx%d)\n",
						f.Emotion, domain.RoundTo2(f.Confidence*100), f.Box.X, f.Box.Y, f.Box.W, f.Box.H); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&faces, "faces", false, "report every detected face with its bounding box")
	return cmd
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}
