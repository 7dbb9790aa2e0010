package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathMapper(t *testing.T) {
	m := NewPathMapper(DefaultPathMappings())

	tests := []struct {
		host    string
		want    string
		wantErr bool
	}{
		{host: "/opt/wp-docker/data/backups/example.com/a.tar.gz", want: "/data/backups/example.com/a.tar.gz"},
		{host: "/opt/wp-docker/data", want: "/data"},
		{host: "/opt/wp-docker/config/rclone.conf", want: "/config/rclone.conf"},
		{host: "/opt/wp-docker/data/../data/x", want: "/data/x"},
		{host: "/opt/wp-docker-other/x", wantErr: true},
		{host: "/tmp/x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, err := m.ToContainer(tt.host)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePathMappings(t *testing.T) {
	got, err := ParsePathMappings([]string{"/srv/backups=/backups", "/srv=/host/"})
	require.NoError(t, err)
	assert.Equal(t, []PathMapping{{Host: "/srv/backups", Container: "/backups"}, {Host: "/srv", Container: "/host"}}, got)

	m := NewPathMapper(got)
	p, err := m.ToContainer("/srv/backups/x.sql")
	require.NoError(t, err)
	assert.Equal(t, "/backups/x.sql", p)

	_, err = ParsePathMappings([]string{"nonsense"})
	require.Error(t, err)

	_, err = ParsePathMappings([]string{"relative=/x"})
	require.Error(t, err)
}
