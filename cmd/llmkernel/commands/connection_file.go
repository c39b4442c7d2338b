package commands

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/llmkernel/kernel/pkg/types"
)

var (
	connFileOut        string
	connFileIP         string
	connFileKernelName string
)

var connectionFileCmd = &cobra.Command{
	Use:   "connection-file",
	Short: "Generate a fresh Jupyter-style connection file",
	Long: `Writes a connection file with a random HMAC key and all five
ports set to 0, suitable for passing to 'llmkernel start -f'. This
command binds nothing; port 0 lets the OS pick each port when the
kernel binds at start-up.`,
	RunE: runConnectionFile,
}

func init() {
	connectionFileCmd.Flags().StringVarP(&connFileOut, "output", "o", "connection.json", "Path to write the connection file")
	connectionFileCmd.Flags().StringVar(&connFileIP, "ip", "127.0.0.1", "Bind address")
	connectionFileCmd.Flags().StringVar(&connFileKernelName, "kernel-name", "llmkernel", "Kernel name reported in kernel_info_reply")
}

func runConnectionFile(cmd *cobra.Command, args []string) error {
	key, err := randomHexKey(32)
	if err != nil {
		return fmt.Errorf("generating signing key: %w", err)
	}

	info := types.ConnectionInfo{
		Transport:       "tcp",
		IP:              connFileIP,
		ShellPort:       0,
		IOPubPort:       0,
		StdinPort:       0,
		ControlPort:     0,
		HBPort:          0,
		SignatureScheme: "hmac-sha256",
		Key:             key,
		KernelName:      connFileKernelName,
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(connFileOut, data, 0600); err != nil {
		return err
	}
	fmt.Printf("wrote %s (ports 0 = OS-assigned; 'llmkernel start' reports the bound ports on startup)\n", connFileOut)
	return nil
}

func randomHexKey(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
