package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ssargent/basekv/pkg/codec"
	"github.com/ssargent/basekv/pkg/store"
)

// ErrVerifyFailed is returned when the log holds a corrupt record
var ErrVerifyFailed = errors.New("log verification failed")

type verifyReport struct {
	Records uint64
	Bytes   uint64
	Keys    int
	Corrupt *store.CorruptionError
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every record in the log",
		Long: `Replay the whole log and check each record's checksum and length.
The file is never modified: a corrupt or truncated tail is reported, not repaired.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoStore: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFrom(cmd)
			if err != nil {
				return err
			}

			report, err := verifyLog(s.config.DataFile, s.config.BufferSize)
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), report)
			if report.Corrupt != nil {
				s.logger.WithFields(logrus.Fields{
					"path":   report.Corrupt.Path,
					"offset": report.Corrupt.Offset,
				}).WithError(report.Corrupt.Err).Error("corrupt record")
				return ErrVerifyFailed
			}
			return nil
		},
	}
}

// verifyLog replays the log at path without building a store
func verifyLog(path string, bufferSize int) (*verifyReport, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot verify %s: %w", path, err)
	}

	log, err := store.OpenAppendLog(store.AppendLogConfig{FilePath: path, BufferSize: bufferSize})
	if err != nil {
		return nil, err
	}
	defer log.Close()

	keys := make(map[string]struct{})
	stats, err := log.Replay(0, func(_ uint64, rec *codec.Record) error {
		keys[string(rec.Key)] = struct{}{}
		return nil
	})

	report := &verifyReport{
		Records: stats.Records,
		Bytes:   stats.Bytes,
		Keys:    len(keys),
	}

	var cErr *store.CorruptionError
	switch {
	case err == nil:
	case errors.As(err, &cErr):
		report.Corrupt = cErr
	default:
		return nil, err
	}
	return report, nil
}

func corruptionKind(err error) string {
	switch {
	case errors.Is(err, codec.ErrChecksumMismatch):
		return "checksum mismatch"
	case errors.Is(err, codec.ErrTruncatedRecord):
		return "truncated record"
	default:
		return "read error"
	}
}

func printReport(out io.Writer, report *verifyReport) {
	fmt.Fprintf(out, "records: %d\n", report.Records)
	fmt.Fprintf(out, "bytes: %d\n", report.Bytes)
	fmt.Fprintf(out, "keys: %d\n", report.Keys)
	if report.Corrupt == nil {
		fmt.Fprintln(out, "status: ok")
		return
	}
	fmt.Fprintf(out, "status: %s at offset %d\n", corruptionKind(report.Corrupt.Err), report.Corrupt.Offset)
}
