package convert

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/BIwashi/candump/pkg/candump"
	"github.com/BIwashi/candump/pkg/cli"
	"github.com/BIwashi/candump/pkg/mcap"
	"github.com/BIwashi/candump/pkg/pcapng"
)

type converter struct {
	logFile     string
	pcapngFile  string
	mcapFile    string
	device      string
	skipInvalid bool
}

func NewCommand() *cobra.Command {
	s := &converter{
		device: "can0",
	}

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a candump log or pcapng capture to MCAP.",
		Long: `Convert CAN captures to MCAP format.

This command reads captured frames either from a textual candump log
("(timestamp) device id#data" per line) or from a pcapng file, and writes
them to an MCAP file under one channel per capturing device.`,
		Example: `  # Convert a candump log to MCAP
  candump convert --log-file capture.log --mcap-file output.mcap

  # Convert a pcapng capture, labeling frames with the interface name
  candump convert --pcapng-file capture.pcapng --device can0 --mcap-file output.mcap

  # Keep going over malformed log lines
  candump convert --log-file capture.log --mcap-file output.mcap --skip-invalid`,
		RunE: cli.WithContext(s.run),
	}

	cmd.Flags().StringVar(&s.logFile, "log-file", s.logFile, "candump log file")
	cmd.Flags().StringVar(&s.pcapngFile, "pcapng-file", s.pcapngFile, "pcapng capture file")
	cmd.Flags().StringVar(&s.mcapFile, "mcap-file", s.mcapFile, "MCAP output file")
	cmd.Flags().StringVar(&s.device, "device", s.device, "device label for frames from pcapng input")
	cmd.Flags().BoolVar(&s.skipInvalid, "skip-invalid", s.skipInvalid, "skip malformed log lines instead of aborting")

	cmd.MarkFlagRequired("mcap-file")
	cmd.MarkFlagsOneRequired("log-file", "pcapng-file")
	cmd.MarkFlagsMutuallyExclusive("log-file", "pcapng-file")

	return cmd
}

func (s *converter) run(ctx context.Context, input cli.Input) error {
	input.Logger.Info("Starting capture to MCAP conversion",
		"log_file", s.logFile,
		"pcapng_file", s.pcapngFile,
		"mcap_file", s.mcapFile,
	)

	mcapOutFile, err := os.Create(s.mcapFile)
	if err != nil {
		return errors.Wrap(err, "create MCAP file")
	}
	defer mcapOutFile.Close()

	writer, err := mcap.NewWriter(mcapOutFile)
	if err != nil {
		return errors.Wrap(err, "create MCAP writer")
	}
	defer writer.Close()

	var stats conversionStats
	startTime := time.Now()

	if s.logFile != "" {
		err = s.convertLog(ctx, input, writer, &stats)
	} else {
		err = s.convertPcapng(ctx, input, writer, &stats)
	}
	if err != nil {
		return err
	}

	duration := time.Since(startTime)
	input.Logger.Info("Conversion completed successfully!",
		"records_written", stats.written,
		"lines_skipped", stats.skipped,
		"output_file", s.mcapFile,
		"duration", duration,
	)
	return nil
}

type conversionStats struct {
	written int
	skipped int
}

// convertLog streams candump records into the writer. Malformed lines abort
// the conversion unless --skip-invalid is set; recovery stays with this
// caller, not with the reader.
func (s *converter) convertLog(ctx context.Context, input cli.Input, writer *mcap.Writer, stats *conversionStats) error {
	logFile, err := os.Open(s.logFile)
	if err != nil {
		return errors.Wrap(err, "open log file")
	}
	defer logFile.Close()

	reader := candump.NewReader(logFile)

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "conversion cancelled")
		default:
		}

		rec, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if s.skipInvalid && !errors.Is(err, candump.ErrIO) {
				stats.skipped++
				input.Logger.Debug("skipping malformed line", "error", err)
				continue
			}
			return errors.Wrap(err, "read record")
		}

		if err := writer.WriteRecord(*rec); err != nil {
			return errors.Wrap(err, "write record")
		}
		stats.written++

		if stats.written%10000 == 0 {
			input.Logger.Info("Progress",
				"records_written", stats.written,
				"lines_skipped", stats.skipped,
			)
		}
	}
	return nil
}

func (s *converter) convertPcapng(ctx context.Context, input cli.Input, writer *mcap.Writer, stats *conversionStats) error {
	pcapFile, err := os.Open(s.pcapngFile)
	if err != nil {
		return errors.Wrap(err, "open pcapng file")
	}
	defer pcapFile.Close()

	reader, err := pcapng.NewReader(pcapFile)
	if err != nil {
		return errors.Wrap(err, "create pcapng reader")
	}

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "conversion cancelled")
		default:
		}

		frame, ts, err := reader.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "read frame")
		}

		rec := candump.Record{
			TimestampUS: uint64(ts.UnixMicro()),
			Device:      s.device,
			Frame:       frame,
		}
		if err := writer.WriteRecord(rec); err != nil {
			return errors.Wrap(err, "write record")
		}
		stats.written++

		if stats.written%10000 == 0 {
			input.Logger.Info("Progress",
				"records_written", stats.written,
				"packets_read", reader.PacketCount(),
			)
		}
	}
	return nil
}
