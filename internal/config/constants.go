package config

import "time"

const (
	AppName                 = "retroducer"
	EnvPrefix               = "RETRODUCER"
	DefaultListenAddress    = ":80"
	DefaultStoragePath      = "./sdcard"
	DefaultHistoryPath      = "./history"
	DefaultSSID             = "Retroducer_Player"
	DefaultAPAddress        = "192.168.4.1"
	DefaultChunkSize        = 1024
	DefaultMaxUploadBytes   = 64 << 20
	DefaultReadBlockSize    = 512
	DefaultOutputBuffer     = 8 * 1024
	DefaultSampleRate       = 44100
	DefaultChannels         = 2
	DefaultVolumeMin        = 0
	DefaultVolumeMax        = 21
	DefaultVolume           = 10
	DefaultHistoryLimit     = 10
	DefaultStatusPushRate   = 4
	DefaultTickInterval     = 5 * time.Millisecond
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultDebounceInterval = 500 * time.Millisecond
)
