package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vorteil/xfsrepair/internal/rlog"
	"github.com/vorteil/xfsrepair/pkg/blockio"
	"github.com/vorteil/xfsrepair/pkg/inoinv"
	"github.com/vorteil/xfsrepair/pkg/xfsformat"
	"github.com/vorteil/xfsrepair/pkg/xfsrepair"
)

var (
	flagVerbose bool
	flagNoColor bool
	flagModify  bool
	flagWorkers int
	flagJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "xfsrepair [device]",
	Short: "Scan an XFS-like filesystem image for metadata corruption",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func commandInit() {
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug-level log output")
	rootCmd.Flags().BoolVar(&flagNoColor, "no-color", false, "disable colorized log output")
	rootCmd.Flags().BoolVarP(&flagModify, "modify", "m", false, "repair what can be safely corrected instead of only reporting it")
	rootCmd.Flags().IntVarP(&flagWorkers, "workers", "w", xfsrepair.DefaultWorkers, "maximum number of allocation groups scanned concurrently")
	rootCmd.Flags().BoolVarP(&flagJSON, "json", "j", false, "emit log output as JSON")
}

func main() {
	commandInit()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	path := args[0]

	if flagJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	if flagVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := &rlog.CLI{Verbose: flagVerbose, NoColor: flagNoColor}

	mode := os.O_RDONLY
	if flagModify {
		mode = os.O_RDWR
	}
	f, err := os.OpenFile(path, mode, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var gw blockio.Gateway
	if flagModify {
		gw = blockio.NewModifiableDeviceGateway(f, f)
	} else {
		gw = blockio.NewDeviceGateway(f)
	}

	ctx := context.Background()
	sbBuf, err := gw.Read(ctx, blockio.Address{Sector: 0, NSectors: 1}, blockio.Ops{Kind: blockio.KindSB, WantMagic: xfsformat.SBMagic})
	if err != nil {
		return fmt.Errorf("read superblock: %w", err)
	}
	sb := xfsformat.DecodeSuperBlock(sbBuf.Data)
	gw.Release(sbBuf)

	if sb.MagicNumber != xfsformat.SBMagic {
		return fmt.Errorf("%s does not look like a filesystem image this tool understands", path)
	}

	fsUUID, err := uuid.FromBytes(sb.UUID[:])
	if err != nil {
		log.Warnf("superblock UUID could not be parsed: %v", err)
	} else {
		log.Infof("scanning filesystem %s", fsUUID)
	}

	var logFirstIno, logLastIno uint32
	if sb.LogStart != 0 {
		logAG := sb.LogStart / uint64(sb.AGBlocks)
		logBlock := uint32(sb.LogStart % uint64(sb.AGBlocks))
		ipb := sb.BlockSize / uint32(sb.InodeSize)
		if logAG == 0 && ipb > 0 {
			logFirstIno = logBlock * ipb
			logLastIno = (logBlock + sb.LogBlocks) * ipb
		}
	}

	geo := xfsrepair.Geometry{
		BlockSize:        sb.BlockSize,
		SectorSize:       uint32(sb.SectorSize),
		AGBlocks:         sb.AGBlocks,
		AGCount:          sb.AGCount,
		InodeSize:        sb.InodeSize,
		CRC:              sb.HasCRC(),
		SparseInodes:     sb.HasSparseInodes(),
		HasFinobt:        sb.HasFinobt(),
		LazySBCount:      sb.HasLazySBCount(),
		UUID:             sb.UUID,
		ChunkAlignBlocks: sb.InodeChunkAlignment,
		AG0LogFirstIno:   logFirstIno,
		AG0LogLastIno:    logLastIno,
	}

	inv := inoinv.New()

	cfg := xfsrepair.Config{
		Geometry:   geo,
		Inventory:  inv,
		Logger:     log,
		Progress:   rlog.NewProgress(int(sb.AGCount), flagJSON),
		ModifyMode: flagModify,
		Workers:    flagWorkers,
	}

	report, err := xfsrepair.ScanFilesystem(ctx, gw, cfg, sb)
	if err != nil {
		return fmt.Errorf("scan aborted: %w", err)
	}

	log.Infof("scanned %d allocation groups (%d abandoned), %d warnings, %d errors",
		len(report.AGs), report.AbandonedAGs, log.Warnings(), log.Errors())

	if log.Errors() > 0 {
		os.Exit(2)
	}
	return nil
}
