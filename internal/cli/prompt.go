package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// PromptForValue asks for a value on out and reads one line from in.
// Returns fallback if the user enters nothing or input cannot be read.
func PromptForValue(in io.Reader, out io.Writer, label, fallback string) string {
	if fallback != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, fallback)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Str("prompt", label).Msg("Failed to read input, using default")
		return fallback
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return fallback
	}
	return input
}
