package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/opencode-ai/memengine/internal/address"
	"github.com/opencode-ai/memengine/internal/connection"
	"github.com/opencode-ai/memengine/internal/datavalue"
	"github.com/opencode-ai/memengine/internal/engine"
	"github.com/opencode-ai/memengine/internal/sequencing"
	"github.com/spf13/cobra"
)

var (
	valueType     string
	valueDisplay  string
	valueEncoding string
	readLength    int
	writeMode     string
	appendNull    bool
)

func init() {
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(freezeCmd)
	rootCmd.AddCommand(unfreezeCmd)

	for _, cmd := range []*cobra.Command{readCmd, writeCmd} {
		cmd.Flags().StringVarP(&valueType, "type", "t", "int32", "data type (byte, int16, int32, int64, float, double, string, bytearray)")
		cmd.Flags().StringVarP(&valueDisplay, "display", "d", "normal", "numeric display (normal, unsigned, hex)")
		cmd.Flags().StringVarP(&valueEncoding, "encoding", "e", "ascii", "string encoding (ascii, utf8, utf16, utf32)")
	}
	readCmd.Flags().IntVarP(&readLength, "length", "n", 16, "characters or bytes to read for string and bytearray")
	writeCmd.Flags().StringVarP(&writeMode, "mode", "m", "set", "numeric write mode (set, add, subtract)")
	writeCmd.Flags().BoolVar(&appendNull, "append-null", false, "append a terminator after strings")
}

var readCmd = &cobra.Command{
	Use:   "read <address>",
	Short: "Read a value from device memory",
	Long: `Read a typed value from device memory.

Addresses are hexadecimal: 82000010, default.xex:1A2B, or pointer
chains such as 82000000+10->4->1C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := address.Parse(args[0])
		if err != nil {
			return err
		}
		opts, t, err := valueFlags()
		if err != nil {
			return err
		}
		like, err := likeValue(t, opts.Encoding, readLength)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close(context.Background())

		result, err := readValue(ctx, eng, addr, like)
		if err != nil {
			return err
		}
		result.Value = datavalue.Format(result.raw, opts.Display)

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, result)
		}
		return writeTable(os.Stdout, []string{"ADDRESS", "RESOLVED", "TYPE", "VALUE"}, [][]string{{
			result.Address, result.Resolved, result.Type, result.Value,
		}})
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <address> <value>",
	Short: "Write a value to device memory",
	Long: `Write a typed value to device memory.

Numeric values may be expressions over the current value v, e.g. "v * 2".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := address.Parse(args[0])
		if err != nil {
			return err
		}
		opts, t, err := valueFlags()
		if err != nil {
			return err
		}
		mode, err := sequencing.ParseWriteMode(writeMode)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close(context.Background())

		written, err := writeValue(ctx, eng, addr, args[1], t, opts, mode, appendNull)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, map[string]string{
				"address": addr.String(),
				"type":    t.String(),
				"value":   datavalue.Format(written, opts.Display),
			})
		}
		fmt.Printf("wrote %s to %s\n", datavalue.Format(written, opts.Display), addr)
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <address>",
	Short: "Resolve an address to its absolute location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := address.Parse(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close(context.Background())

		resolved, ok, err := eng.ResolveNow(ctx, addr)
		if err != nil {
			return err
		}
		out := map[string]any{"address": addr.String(), "resolved": ok}
		if ok {
			out["absolute"] = fmt.Sprintf("%08X", resolved)
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, out)
		}
		if !ok {
			return fmt.Errorf("%w: %s", engine.ErrUnresolvable, addr)
		}
		fmt.Printf("%08X\n", resolved)
		return nil
	},
}

var freezeCmd = &cobra.Command{
	Use:   "freeze",
	Short: "Freeze the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setFrozen(true)
	},
}

var unfreezeCmd = &cobra.Command{
	Use:   "unfreeze",
	Short: "Unfreeze the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setFrozen(false)
	},
}

func setFrozen(frozen bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	conn, err := openConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	freezer, ok := connection.TryGetFeature[connection.Freezer](conn)
	if !ok {
		return fmt.Errorf("%s connection cannot freeze the device", resolvedConnectionType(GetConfig()))
	}
	if frozen {
		return freezer.Freeze(ctx)
	}
	return freezer.Unfreeze(ctx)
}

// readResult is the output of the read command.
type readResult struct {
	Address  string `json:"address"`
	Resolved string `json:"resolved"`
	Type     string `json:"type"`
	Value    string `json:"value"`

	raw datavalue.Value
}

func readValue(ctx context.Context, eng *engine.MemoryEngine, addr address.Address, like datavalue.Value) (*readResult, error) {
	token, err := eng.BusyLock().AcquireTimeout(ctx, GetConfig().Engine.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	defer token.Release()

	resolved, ok, err := eng.Resolve(ctx, token, addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnresolvable, addr)
	}
	v, err := eng.ReadValue(ctx, token, address.Static{Address: resolved}, like)
	if err != nil {
		return nil, err
	}
	return &readResult{
		Address:  addr.String(),
		Resolved: fmt.Sprintf("%08X", resolved),
		Type:     like.Type().String(),
		raw:      v,
	}, nil
}

// writeValue parses text against the current value and writes it while
// holding the busy lock, so read-modify-write is atomic to other users.
func writeValue(
	ctx context.Context,
	eng *engine.MemoryEngine,
	addr address.Address,
	text string,
	t datavalue.DataType,
	opts datavalue.Options,
	mode sequencing.WriteMode,
	appendNull bool,
) (datavalue.Value, error) {
	token, err := eng.BusyLock().AcquireTimeout(ctx, GetConfig().Engine.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	defer token.Release()

	var current datavalue.Numeric
	if t.IsNumeric() {
		zero, _ := datavalue.Zero(t)
		v, err := eng.ReadValue(ctx, token, addr, zero)
		if err != nil {
			return nil, err
		}
		current = v.(datavalue.Numeric)
	}

	v, err := datavalue.ParseExpression(text, t, opts, current)
	if err != nil {
		return nil, err
	}
	if n, ok := v.(datavalue.Numeric); ok && current != nil {
		switch mode {
		case sequencing.WriteAdd:
			v = datavalue.Add(current, n)
		case sequencing.WriteSubtract:
			v = datavalue.Subtract(current, n)
		}
	}

	if err := eng.WriteValue(ctx, token, addr, v, appendNull); err != nil {
		return nil, err
	}
	return v, nil
}

func valueFlags() (datavalue.Options, datavalue.DataType, error) {
	t, err := datavalue.ParseDataType(valueType)
	if err != nil {
		return datavalue.Options{}, 0, err
	}
	display, err := datavalue.ParseDisplayType(valueDisplay)
	if err != nil {
		return datavalue.Options{}, 0, err
	}
	enc, err := datavalue.ParseStringType(valueEncoding)
	if err != nil {
		return datavalue.Options{}, 0, err
	}
	return datavalue.Options{Display: display, Encoding: enc}, t, nil
}

// likeValue builds the shape a read decodes into.
func likeValue(t datavalue.DataType, enc datavalue.StringType, length int) (datavalue.Value, error) {
	switch {
	case t.IsNumeric():
		zero, err := datavalue.Zero(t)
		if err != nil {
			return nil, err
		}
		return zero, nil
	case length <= 0:
		return nil, fmt.Errorf("--length must be greater than 0 for %s", t)
	case t == datavalue.TypeString:
		return datavalue.String{Text: strings.Repeat(" ", length), Encoding: enc}, nil
	default:
		return datavalue.NewByteArray(make([]byte, length)), nil
	}
}
