package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.BindEnv("output.dir", "GBOX_EXPORT_OUTPUT_DIR")
	v.BindEnv("ffmpeg.binary", "GBOX_EXPORT_FFMPEG", "FFMPEG_BINARY")
	v.BindEnv("server.port", "GBOX_EXPORT_PORT")
	v.BindEnv("video.codec", "GBOX_EXPORT_CODEC")
	v.BindEnv("video.bitrate", "GBOX_EXPORT_BITRATE")
	v.BindEnv("video.cluster_max_millis", "GBOX_EXPORT_CLUSTER_MAX_MILLIS")
	v.BindEnv("frames.prefix", "GBOX_EXPORT_FILE_PREFIX")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range []string{
		".",
		filepath.Join(xdg.ConfigHome, "gbox-export"),
		"$HOME/.gbox/export",
	} {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.dir", filepath.Join(xdg.UserDirs.Videos, "gbox-export"))
	v.SetDefault("ffmpeg.binary", "ffmpeg")

	v.SetDefault("video.width", 640)
	v.SetDefault("video.height", 360)
	v.SetDefault("video.fps", 30)
	v.SetDefault("video.frames", 90)
	v.SetDefault("video.codec", "vp09.00.10.08")
	v.SetDefault("video.bitrate", 2_000_000)
	v.SetDefault("video.cluster_max_millis", 3000)

	v.SetDefault("frames.prefix", "frame")
	v.SetDefault("frames.fps", 30)

	v.SetDefault("scene.particles", 400)
	v.SetDefault("scene.seed", 1)

	v.SetDefault("server.port", 28095)
	v.SetDefault("server.max_frames", 3600)
	v.SetDefault("server.progress_retention", "10m")
}

// Video holds the defaults for video exports.
type Video struct {
	Width            uint32
	Height           uint32
	FPS              uint32
	Frames           int
	Codec            string
	Bitrate          uint32
	ClusterMaxMillis uint32
}

// GetVideo returns the configured video defaults.
func GetVideo() Video {
	return Video{
		Width:            v.GetUint32("video.width"),
		Height:           v.GetUint32("video.height"),
		FPS:              v.GetUint32("video.fps"),
		Frames:           v.GetInt("video.frames"),
		Codec:            v.GetString("video.codec"),
		Bitrate:          v.GetUint32("video.bitrate"),
		ClusterMaxMillis: v.GetUint32("video.cluster_max_millis"),
	}
}

// GetFramePrefix returns the file name prefix of image-sequence entries.
func GetFramePrefix() string {
	return v.GetString("frames.prefix")
}

// GetFramesFPS returns the frame rate used to time image-sequence renders.
func GetFramesFPS() uint32 {
	return v.GetUint32("frames.fps")
}

// GetSceneParticles returns the particle count of the built-in scene.
func GetSceneParticles() int {
	return v.GetInt("scene.particles")
}

// GetSceneSeed returns the random seed of the built-in scene.
func GetSceneSeed() int64 {
	return v.GetInt64("scene.seed")
}

// GetOutputDir returns where exports are written when no path is given.
func GetOutputDir() string {
	return v.GetString("output.dir")
}

// GetFFmpegBinary returns the ffmpeg executable used for video encoding.
func GetFFmpegBinary() string {
	return v.GetString("ffmpeg.binary")
}

// GetServerPort returns the export server port.
func GetServerPort() int {
	return v.GetInt("server.port")
}

// GetServerMaxFrames caps the frame count a single server request may ask for.
func GetServerMaxFrames() int {
	return v.GetInt("server.max_frames")
}

// GetProgressRetention returns how long finished jobs stay queryable.
func GetProgressRetention() time.Duration {
	return v.GetDuration("server.progress_retention")
}
