package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-padnext/internal/padnext/codec"
	"github.com/drfirst/go-padnext/internal/padnext/container"
)

var (
	packOrder  string
	packKey    string
	packOut    string
	packNoPDF  bool
	unpackKey  string
	unpackOut  string
	unpackKeep bool
)

var packCmd = &cobra.Command{
	Use:   "pack [payload files...]",
	Short: "Pack an order and its payloads into a transport archive",
	Long: `Fills the order's file lengths and checksums from the payloads, seals
the payloads for the receiver and writes the outer _padx.zip archive.

Examples:
  padx pack --order order_auf.xml --key receiver.pub.pem rechnungen_padx.xml anlage.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPack,
}

var unpackCmd = &cobra.Command{
	Use:   "unpack [archive]",
	Short: "Open a transport archive and check it against its order",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnpack,
}

func init() {
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(unpackCmd)

	packCmd.Flags().StringVar(&packOrder, "order", "", "Order document (_auf.xml)")
	packCmd.Flags().StringVar(&packKey, "key", "", "Receiver public key (PEM)")
	packCmd.Flags().StringVarP(&packOut, "out", "o", ".", "Output directory")
	packCmd.Flags().BoolVar(&packNoPDF, "no-pdf-check", false, "Skip PDF payload validation")
	packCmd.MarkFlagRequired("order")
	packCmd.MarkFlagRequired("key")

	unpackCmd.Flags().StringVar(&unpackKey, "key", "", "Receiver private key (PEM)")
	unpackCmd.Flags().StringVarP(&unpackOut, "out", "o", ".", "Output directory")
	unpackCmd.Flags().BoolVar(&unpackKeep, "keep-invalid", false, "Write the payloads even when the manifest check fails")
	unpackCmd.MarkFlagRequired("key")
}

func runPack(cmd *cobra.Command, args []string) error {
	orderData, err := os.ReadFile(packOrder)
	if err != nil {
		return fmt.Errorf("failed to read order: %w", err)
	}
	a, err := codec.DecodeAuftrag(orderData, schemaVersion)
	if err != nil {
		return err
	}
	pub, err := loadPublicKey(packKey)
	if err != nil {
		return err
	}

	files := make([]container.File, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}
		files = append(files, container.File{Name: filepath.Base(path), Data: data})
	}

	version := schemaVersion
	if version == "" {
		version = a.SchemaVersion()
	}
	packer := container.NewPacker(container.Config{CheckPDF: !packNoPDF}, nil, newLogger())
	archive, err := packer.Pack(a, version, files, pub)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(packOut, 0o755); err != nil {
		return err
	}
	out := filepath.Join(packOut, archive.Name)
	if err := os.WriteFile(out, archive.Data, 0o644); err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(map[string]interface{}{
			"archive": out,
			"bytes":   len(archive.Data),
			"files":   archive.Auftrag.FileCount(),
		})
	}
	fmt.Printf("wrote %s (%d bytes, %d files)\n", out, len(archive.Data), archive.Auftrag.FileCount())
	return nil
}

func runUnpack(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	priv, err := loadPrivateKey(unpackKey)
	if err != nil {
		return err
	}

	packer := container.NewPacker(container.DefaultConfig(), nil, newLogger())
	u, checkErr := packer.Unpack(data, priv, schemaVersion)
	if u == nil {
		return checkErr
	}
	if checkErr != nil && !unpackKeep {
		return checkErr
	}

	if err := os.MkdirAll(unpackOut, 0o755); err != nil {
		return err
	}
	written := make([]string, 0, len(u.Files))
	for _, f := range u.Files {
		out := filepath.Join(unpackOut, filepath.Base(f.Name))
		if err := os.WriteFile(out, f.Data, 0o644); err != nil {
			return err
		}
		written = append(written, out)
	}

	if outputFormat == "json" {
		if err := printJSON(map[string]interface{}{
			"transfer_number": u.Auftrag.TransferNumber(),
			"files":           written,
		}); err != nil {
			return err
		}
	} else {
		fmt.Printf("transfer number %06d\n", u.Auftrag.TransferNumber())
		for _, w := range written {
			fmt.Printf("  %s\n", w)
		}
	}
	if checkErr != nil {
		return errors.Join(errors.New("manifest check failed"), checkErr)
	}
	return nil
}
