package r2s3

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// Env is a bucket mirror configured from BS_R2_* variables.
type Env struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Prefix          string
	Workers         int
	QueueCapacity   int
	SkipExisting    bool
}

// FromEnv reads mirror settings through getenv (usually os.Getenv). ok is
// false when BS_R2_MIRROR is unset or false.
func FromEnv(getenv func(string) string) (env Env, ok bool, err error) {
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }
	if on, _ := strconv.ParseBool(get("BS_R2_MIRROR")); !on {
		return Env{}, false, nil
	}
	env = Env{
		Endpoint:        get("BS_R2_ENDPOINT"),
		Bucket:          get("BS_R2_BUCKET"),
		AccessKeyID:     get("BS_R2_ACCESS_KEY_ID"),
		SecretAccessKey: get("BS_R2_SECRET_ACCESS_KEY"),
		Region:          get("BS_R2_REGION"),
		Prefix:          get("BS_R2_PREFIX"),
		Workers:         positive(get("BS_R2_UPLOAD_WORKERS"), 2),
		QueueCapacity:   positive(get("BS_R2_QUEUE_CAPACITY"), 2048),
	}
	env.SkipExisting, _ = strconv.ParseBool(get("BS_R2_SKIP_EXISTING"))

	var missing []string
	for _, f := range []struct{ name, v string }{
		{"BS_R2_ENDPOINT", env.Endpoint},
		{"BS_R2_BUCKET", env.Bucket},
		{"BS_R2_ACCESS_KEY_ID", env.AccessKeyID},
		{"BS_R2_SECRET_ACCESS_KEY", env.SecretAccessKey},
	} {
		if f.v == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return Env{}, false, fmt.Errorf("BS_R2_MIRROR=true but %s not set", strings.Join(missing, ", "))
	}
	return env, true, nil
}

// Open builds the bucket client and starts a mirror rooted at dataDir.
func (e Env) Open(dataDir string, logger *log.Logger) (*Mirror, error) {
	client, err := New(e.Endpoint, e.Bucket, e.AccessKeyID, e.SecretAccessKey)
	if err != nil {
		return nil, err
	}
	client.WithRegion(e.Region)
	return NewMirror(client, MirrorConfig{
		DataDir:       dataDir,
		Prefix:        e.Prefix,
		Workers:       e.Workers,
		QueueCapacity: e.QueueCapacity,
		SkipExisting:  e.SkipExisting,
		Logger:        logger,
	}), nil
}

func positive(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
