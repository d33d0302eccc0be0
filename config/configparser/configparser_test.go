package configparser

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testValue string
var testType string
var testOptions []Option

func resetTest() {
	testValue = "error"
	testType = ""
	testOptions = nil
}

func cleanUpConfig() {
	directives = map[string]directiveDef{}
	resetTest()
}

func recordCPU(first string, options []Option) error {
	testType = "model"
	testValue = first
	testOptions = options
	return nil
}

func recordSwitch(first string, options []Option) error {
	testType = "switch"
	testValue = first
	return nil
}

func recordOption(first string, options []Option) error {
	testType = "option"
	testValue = first
	return nil
}

func recordOptions(first string, options []Option) error {
	testType = "options"
	testValue = first
	testOptions = options
	return nil
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "ia32core-config-*.cfg")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestRegisterModelDirectiveSelectsCPUBackend(t *testing.T) {
	cleanUpConfig()
	defer cleanUpConfig()
	RegisterModel("cpu", recordCPU)

	path := writeTempConfig(t, "cpu pentium\n")
	require.NoError(t, LoadConfigFile(path))
	assert.Equal(t, "model", testType)
	assert.Equal(t, "pentium", testValue)
}

func TestRegisterSwitchDirectiveRejectsTrailingOptions(t *testing.T) {
	cleanUpConfig()
	defer cleanUpConfig()
	RegisterSwitch("trace", recordSwitch)

	path := writeTempConfig(t, "trace extra\n")
	assert.Error(t, LoadConfigFile(path))
}

func TestRegisterSwitchDirectiveBareLineSucceeds(t *testing.T) {
	cleanUpConfig()
	defer cleanUpConfig()
	RegisterSwitch("trace", recordSwitch)

	path := writeTempConfig(t, "trace\n")
	require.NoError(t, LoadConfigFile(path))
	assert.Equal(t, "switch", testType)
}

func TestRegisterOptionDirectiveTakesSingleValue(t *testing.T) {
	cleanUpConfig()
	defer cleanUpConfig()
	RegisterOption("memsize", recordOption)

	path := writeTempConfig(t, "memsize 65536\n")
	require.NoError(t, LoadConfigFile(path))
	assert.Equal(t, "option", testType)
	assert.Equal(t, "65536", testValue)
}

func TestRegisterOptionsDirectiveCollectsCommaList(t *testing.T) {
	cleanUpConfig()
	defer cleanUpConfig()
	RegisterOptions("logfile", recordOptions)

	path := writeTempConfig(t, "logfile trace level=debug,stderr\n")
	require.NoError(t, LoadConfigFile(path))
	assert.Equal(t, "options", testType)
	assert.Equal(t, "trace", testValue)
	require.Len(t, testOptions, 1)
	assert.Equal(t, "level", testOptions[0].Name)
	assert.Equal(t, "debug", testOptions[0].EqualOpt)
	require.Len(t, testOptions[0].Value, 1)
	assert.Equal(t, "stderr", *testOptions[0].Value[0])
}

func TestCommentLinesAndBlankLinesAreIgnored(t *testing.T) {
	cleanUpConfig()
	defer cleanUpConfig()
	RegisterModel("cpu", recordCPU)

	path := writeTempConfig(t, "# a comment\n\ncpu k6 # trailing comment\n")
	require.NoError(t, LoadConfigFile(path))
	assert.Equal(t, "k6", testValue)
}

func TestUnknownDirectiveReturnsError(t *testing.T) {
	cleanUpConfig()
	defer cleanUpConfig()

	path := writeTempConfig(t, "bogus thing\n")
	assert.Error(t, LoadConfigFile(path))
}

func TestLoadConfigFileMissingFileReturnsError(t *testing.T) {
	cleanUpConfig()
	defer cleanUpConfig()
	assert.Error(t, LoadConfigFile("/nonexistent/path/ia32core.cfg"))
}
