package cmd

import (
	"testing"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newValidEnv returns a new valid *environment for tests.
func newValidEnv() (envs *environment) {
	return &environment{
		ConfPath:        "./config.yaml",
		ListenAddr:      "127.0.0.1",
		LogFormat:       "text",
		RedisKey:        "filtersync:storage",
		RulesPath:       "./rules.json",
		SentryDSN:       "stderr",
		StoragePath:     "./patterns.ini",
		StorageType:     storageTypeFile,
		MaxDownloadSize: 16 * datasize.MB,
		ListenPort:      8181,
	}
}

func TestEnvironment_Validate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		modify  func(envs *environment)
		wantErr assert.ErrorAssertionFunc
		name    string
	}{{
		modify:  func(_ *environment) {},
		wantErr: assert.NoError,
		name:    "valid",
	}, {
		modify: func(envs *environment) {
			envs.StorageType = storageTypeRedis
			envs.RedisAddr = &netutil.HostPort{
				Host: "localhost",
				Port: 6379,
			}
		},
		wantErr: assert.NoError,
		name:    "valid_redis",
	}, {
		modify: func(envs *environment) {
			envs.StorageType = storageTypeRedis
		},
		wantErr: assert.Error,
		name:    "redis_no_addr",
	}, {
		modify: func(envs *environment) {
			envs.StoragePath = ""
		},
		wantErr: assert.Error,
		name:    "file_no_path",
	}, {
		modify: func(envs *environment) {
			envs.LogFormat = "xml"
		},
		wantErr: assert.Error,
		name:    "bad_log_format",
	}, {
		modify: func(envs *environment) {
			envs.ListenPort = 0
		},
		wantErr: assert.Error,
		name:    "zero_port",
	}, {
		modify: func(envs *environment) {
			envs.MaxDownloadSize = 0
		},
		wantErr: assert.Error,
		name:    "zero_download_size",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			envs := newValidEnv()
			tc.modify(envs)

			tc.wantErr(t, envs.Validate())
		})
	}

	t.Run("bad_storage_type", func(t *testing.T) {
		t.Parallel()

		envs := newValidEnv()
		envs.StorageType = "memory"

		assert.ErrorIs(t, envs.Validate(), errors.ErrBadEnumValue)
	})
}

func TestEnvironment_debugAddr(t *testing.T) {
	t.Parallel()

	envs := newValidEnv()
	assert.Equal(t, "127.0.0.1:8181", envs.debugAddr())
}

func TestStrictBool_UnmarshalText(t *testing.T) {
	t.Parallel()

	var sb strictBool

	require.NoError(t, sb.UnmarshalText([]byte("1")))
	assert.True(t, bool(sb))

	require.NoError(t, sb.UnmarshalText([]byte("0")))
	assert.False(t, bool(sb))

	assert.Error(t, sb.UnmarshalText([]byte("true")))
	assert.Error(t, sb.UnmarshalText(nil))
}
