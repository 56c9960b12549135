package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/audio"
	"github.com/oszuidwest/zwfm-dictation/internal/calibrate"
	"github.com/oszuidwest/zwfm-dictation/internal/capture"
	"github.com/oszuidwest/zwfm-dictation/internal/config"
	"github.com/oszuidwest/zwfm-dictation/internal/transcribe"
	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

// meterWidth is the width of the level bar in characters.
const meterWidth = 30

// errInputClosed is returned when stdin closes during an interactive prompt.
var errInputClosed = errors.New("input closed")

// runDictation records until silence, transcribes and writes the transcript to out.
// Prompts and the level meter go to term.
func runDictation(ctx context.Context, app *App, cfg *config.Config, out, term io.Writer) error {
	fmt.Fprintln(term, "Listening, speak now (Ctrl-C to cancel)")

	res, err := app.Record(ctx, cfg.Snapshot().SessionConfig(), meter(term))
	fmt.Fprintln(term)
	if res == nil {
		return err
	}
	if err != nil {
		slog.Warn("recording ended early, transcribing partial audio", "session_id", res.SessionID, "error", err)
	}
	if res.Reason == capture.ReasonCancelled {
		fmt.Fprintln(term, "Cancelled")
		return nil
	}

	fmt.Fprintf(term, "Recorded %s (%s), transcribing\n", util.FormatDuration(res.Elapsed), res.Reason)

	text, err := app.Transcribe(ctx, res)
	switch {
	case errors.Is(err, transcribe.ErrNoSpeech), errors.Is(err, transcribe.ErrTooShort):
		fmt.Fprintln(term, "No speech detected")
		return nil
	case err != nil:
		return util.WrapError("transcribe", err)
	}

	fmt.Fprintln(out, text)
	return nil
}

// meter returns a status callback that draws a single-line level meter.
func meter(term io.Writer) func(capture.StatusEvent) {
	return func(ev capture.StatusEvent) {
		fmt.Fprintf(term, "\r%6s %s silence %4.1fs ",
			util.FormatDuration(time.Duration(ev.Elapsed*float64(time.Second))), bar(ev.Level), ev.Silence)
	}
}

// bar renders a level on a dB scale.
func bar(level float64) string {
	n := int((audio.ToDB(level) - audio.MinDB) / -audio.MinDB * meterWidth)
	n = min(max(n, 0), meterWidth)
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", meterWidth-n) + "]"
}

// runTune runs an unattended calibration and saves the recommendation.
func runTune(ctx context.Context, app *App, cfg *config.Config, term io.Writer) error {
	fmt.Fprintln(term, "Calibrating: stay quiet until asked to speak")

	report, err := app.Calibrate(ctx, calibrate.ModeUnattended, phasePrompter(term, false), nil)
	fmt.Fprintln(term)
	if err != nil {
		return explainCalibration(term, report, err)
	}

	rec := report.Recommendation
	printRecommendation(term, report)
	if err := cfg.UpdateSilence(rec.Threshold, rec.SilenceDuration); err != nil {
		return util.WrapError("save calibration", err)
	}
	fmt.Fprintf(term, "Saved threshold %.4f to %s\n", rec.Threshold, cfg.Path())
	return nil
}

// runTuneInteractive runs an operator-paced calibration followed by trial
// recordings. The operator accepts a setting or reports whether recording
// stopped too early or too late; only an accepted setting is saved.
func runTuneInteractive(ctx context.Context, app *App, cfg *config.Config, lines <-chan string, term io.Writer) error {
	fmt.Fprintln(term, "Stay quiet while the background noise is measured. Press Enter to finish early.")

	report, err := app.Calibrate(ctx, calibrate.ModeInteractive, phasePrompter(term, true), lines)
	fmt.Fprintln(term)
	if err != nil {
		return explainCalibration(term, report, err)
	}
	printRecommendation(term, report)

	rec := report.Recommendation
	settings := rec.Alternatives // conservative, balanced, aggressive
	i := 1
	tried := make(map[int]bool)

	for i >= 0 && i < len(settings) && !tried[i] {
		tried[i] = true
		s := settings[i]

		fmt.Fprintf(term, "\nTrial with %s threshold %.4f: say a sentence, then stop talking.\n", s.Name, s.Threshold)
		sc := cfg.Snapshot().SessionConfig()
		sc.SilenceThreshold = s.Threshold
		sc.SilenceDuration = rec.SilenceDuration

		res, err := app.Record(ctx, sc, meter(term))
		fmt.Fprintln(term)
		if res == nil {
			return err
		}
		if res.Reason == capture.ReasonCancelled {
			return calibrate.ErrCancelled
		}
		fmt.Fprintf(term, "Stopped after %s (%s)\n", util.FormatDuration(res.Elapsed), res.Reason)

		answer, err := ask(ctx, lines, term, "Did it stop at the right moment? [y]es, too [e]arly, too [l]ate: ", "y", "e", "l")
		if err != nil {
			return err
		}
		switch answer {
		case "y":
			if err := cfg.UpdateSilence(s.Threshold, rec.SilenceDuration); err != nil {
				return util.WrapError("save calibration", err)
			}
			fmt.Fprintf(term, "Saved threshold %.4f to %s\n", s.Threshold, cfg.Path())
			return nil
		case "e":
			// Cut off while speaking: the threshold was too high.
			i--
		case "l":
			i++
		}
	}

	fmt.Fprintln(term, "No setting accepted, configuration unchanged")
	return nil
}

// phasePrompter returns a progress callback that announces phase changes.
func phasePrompter(term io.Writer, interactive bool) func(calibrate.Progress) {
	var phase calibrate.Phase
	var waiting bool
	return func(p calibrate.Progress) {
		switch {
		case p.Waiting && !waiting:
			fmt.Fprintln(term, "\nPress Enter, then read a few sentences aloud at your normal volume.")
		case p.Phase != phase && p.Phase == calibrate.PhaseSpeech:
			if interactive {
				fmt.Fprintln(term, "\nSpeak now. Press Enter when done.")
			} else {
				fmt.Fprintln(term, "\nNow read a few sentences aloud at your normal volume.")
			}
		}
		phase, waiting = p.Phase, p.Waiting
		if !p.Waiting {
			fmt.Fprintf(term, "\r%-7s %4.1f/%.0fs %s ", p.Phase, p.Elapsed.Seconds(), p.Window.Seconds(), bar(p.Level))
		}
	}
}

// explainCalibration prints why a calibration produced no recommendation.
func explainCalibration(term io.Writer, report *calibrate.Report, err error) error {
	var advisory *calibrate.Advisory
	if errors.As(err, &advisory) {
		fmt.Fprintf(term, "Speech was not clearly louder than the room (speech mean %.4f, room peak %.4f).\n",
			advisory.Speech.Mean, advisory.Ambient.Peak)
		fmt.Fprintln(term, "Move closer to the microphone or reduce background noise, then try again.")
		fmt.Fprintln(term, "Configuration unchanged.")
	}
	if report != nil {
		slog.Debug("calibration statistics", "calibration_id", report.ID,
			"ambient_peak", report.Ambient.Peak, "speech_mean", report.Speech.Mean)
	}
	return err
}

// printRecommendation prints the phase statistics and threshold choices.
func printRecommendation(term io.Writer, report *calibrate.Report) {
	rec := report.Recommendation
	fmt.Fprintf(term, "Room:   mean %.4f  peak %.4f\n", report.Ambient.Mean, report.Ambient.Peak)
	fmt.Fprintf(term, "Speech: mean %.4f  p10 %.4f\n", report.Speech.Mean, report.Speech.P10)
	for _, s := range rec.Alternatives {
		fmt.Fprintf(term, "  %-12s %.4f\n", s.Name, s.Threshold)
	}
	fmt.Fprintf(term, "Recommended threshold %.4f, silence duration %s\n",
		rec.Threshold, util.FormatDuration(rec.SilenceDuration))
}

// runListDevices prints the capture devices of the configured backend.
func runListDevices(app *App, out io.Writer) error {
	devices, err := app.Devices()
	if err != nil {
		return util.WrapError("list devices", err)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\n", d.ID, d.Name)
	}
	return w.Flush()
}

// readLines streams lines from r until EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// ask prompts until one of the accepted answers is read.
func ask(ctx context.Context, lines <-chan string, term io.Writer, prompt string, accepted ...string) (string, error) {
	for {
		fmt.Fprint(term, prompt)
		select {
		case line, ok := <-lines:
			if !ok {
				return "", errInputClosed
			}
			answer := strings.ToLower(strings.TrimSpace(line))
			for _, a := range accepted {
				if strings.HasPrefix(answer, a) {
					return a, nil
				}
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
