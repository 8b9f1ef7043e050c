package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// SetCIOutput publishes a key/value pair to the CI runner: the pair is
// printed to stdout as `key=value`, and when the GITHUB_OUTPUT file is
// present it is also appended there in the heredoc delimiter format the
// Actions toolkit expects. A missing GITHUB_OUTPUT variable is not an error;
// outside GitHub Actions the stdout line is the whole contract.
func SetCIOutput(key, value string) error {
	Println(fmt.Sprintf("%s=%s", key, value))

	outputPath := os.Getenv("GITHUB_OUTPUT")
	if outputPath == "" {
		return nil
	}

	record, err := escapeKeyValue(key, value)
	if err != nil {
		return err
	}

	fh, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", outputPath, err)
	}
	defer fh.Close()

	if _, err := fh.WriteString(record); err != nil {
		return fmt.Errorf("writing to %s: %w", outputPath, err)
	}
	return nil
}

// escapeKeyValue frames a value with a random heredoc delimiter so that
// multi-line values survive the Actions output file format.
func escapeKeyValue(key, value string) (string, error) {
	delimiter := fmt.Sprintf("ghadelimiter_%s", uuid.New())

	if strings.Contains(key, delimiter) {
		return "", fmt.Errorf("output key contains delimiter")
	}
	if strings.Contains(value, delimiter) {
		return "", fmt.Errorf("output value contains delimiter")
	}

	return fmt.Sprintf("%s<<%s\n%s\n%s\n", key, delimiter, value, delimiter), nil
}
