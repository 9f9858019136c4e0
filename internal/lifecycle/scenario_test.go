package lifecycle_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/srg/nusbridge/internal/connection"
	"github.com/srg/nusbridge/internal/discovery"
	"github.com/srg/nusbridge/internal/lifecycle"
	"github.com/srg/nusbridge/internal/serialio"
	"github.com/srg/nusbridge/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type scenario struct {
	Name           string                             `yaml:"name"`
	Filter         string                             `yaml:"filter"`
	ScanTimeout    time.Duration                      `yaml:"scan_timeout"`
	ChunkSize      int                                `yaml:"chunk_size"`
	DialError      string                             `yaml:"dial_error"`
	Advertisements []testutils.ScheduledAdvertisement `yaml:"advertisements"`
	LocalInput     []string                           `yaml:"local_input"`
	Expect         struct {
		Error    string   `yaml:"error"`
		RXWrites []string `yaml:"rx_writes"`
		Dials    []string `yaml:"dials"`
		Cancels  int      `yaml:"cancels"`
	} `yaml:"expect"`
}

var scenarioErrors = map[string]error{
	"discovery_timeout": lifecycle.ErrDiscoveryTimeout,
	"connect_failed":    lifecycle.ErrConnectFailed,
	"open_failed":       lifecycle.ErrOpenFailed,
}

func TestScenarios(t *testing.T) {
	data, err := os.ReadFile("testdata/scenarios.yaml")
	require.NoError(t, err)

	var scenarios []scenario
	require.NoError(t, yaml.Unmarshal(data, &scenarios))
	require.NotEmpty(t, scenarios)

	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			helper := testutils.NewTestHelper(t)

			central := testutils.NewFakeCentral(sc.Advertisements...)
			if sc.DialError != "" {
				central.DialErr = errors.New(sc.DialError)
			}
			port := testutils.NewFakePort()
			for _, chunk := range sc.LocalInput {
				port.Feed([]byte(chunk))
			}
			port.EOF()

			connectOpts := connection.DefaultConnectOptions()
			connectOpts.SettleDelay = 5 * time.Millisecond

			c, err := lifecycle.New(lifecycle.Options{
				Central:      central,
				Filter:       discovery.NameEquals(sc.Filter),
				ScanTimeout:  sc.ScanTimeout,
				OpenEndpoint: func() (serialio.Port, error) { return port, nil },
				Connect:      connectOpts,
				ChunkSize:    sc.ChunkSize,
				Logger:       helper.Logger,
			})
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = c.Run(ctx)

			if sc.Expect.Error == "" {
				assert.NoError(t, err)
			} else {
				want, ok := scenarioErrors[sc.Expect.Error]
				require.True(t, ok, "unknown expected error %q", sc.Expect.Error)
				assert.ErrorIs(t, err, want)
			}

			var writes []string
			for _, w := range central.Client.RX.Writes() {
				writes = append(writes, string(w))
			}
			assert.Equal(t, sc.Expect.RXWrites, writes, "RX writes MUST match")
			assert.Equal(t, sc.Expect.Dials, central.Dials(), "dials MUST match")
			assert.Equal(t, sc.Expect.Cancels, central.Client.CancelCalls(), "disconnect count MUST match")
		})
	}
}
