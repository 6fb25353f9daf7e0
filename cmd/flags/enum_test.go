package flags

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestEnumValue_AcceptsOnlyEnumMembers(t *testing.T) {
	e := &EnumValue{Enum: []string{"text", "fluentd", "json"}, Value: "text"}
	assert.Equal(t, "text", e.String())

	require.NoError(t, e.Set("json"))
	assert.Equal(t, "json", e.String())

	err := e.Set("xml")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "allowed values are text, fluentd, json")
	assert.Equal(t, "json", e.String())
}

func TestLogFormatFlag_ReadableThroughCliContext(t *testing.T) {
	app := cli.App{}
	set := flag.NewFlagSet("test", 0)
	require.NoError(t, LogFormatFlag.Apply(set))
	ctx := cli.NewContext(&app, set, nil)

	assert.Equal(t, "text", ctx.String(LogFormatFlag.Name))
	require.NoError(t, set.Set(LogFormatFlag.Name, "fluentd"))
	assert.Equal(t, "fluentd", ctx.String(LogFormatFlag.Name))
}
