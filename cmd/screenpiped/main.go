// screenpiped 屏幕采集识别守护进程。
// 在线模式: 连接虚拟显示, 驱动零拷贝取帧管线并输出调试遥测;
// 离线模式 (-image): 不碰平台库, 直接对图片文件跑一次识别, 用于排查模型。
package main

import (
	"flag"
	"fmt"
	"image"
	"image/draw"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/up-zero/gotool/imageutil"

	screenpipe "github.com/getcharzp/go-screenpipe"
	"github.com/getcharzp/go-screenpipe/capture"
	"github.com/getcharzp/go-screenpipe/display"
	"github.com/getcharzp/go-screenpipe/internal/abi"
	"github.com/getcharzp/go-screenpipe/recognizer"
	"github.com/getcharzp/go-screenpipe/telemetry"
)

const acquireTimeout = 100 * time.Millisecond

func main() {
	var (
		configPath   string
		displayToken uint64
		imagePath    string
		debug        bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径, 留空用缺省配置")
	flag.Uint64Var(&displayToken, "display-token", 0, "虚拟显示句柄, 由显示子系统下发")
	flag.StringVar(&imagePath, "image", "", "离线识别模式: 对图片文件跑一次识别后退出")
	flag.BoolVar(&debug, "debug", false, "输出调试日志")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Info().Str("version", screenpipe.Version).Msg("screenpiped 启动")

	cfg, err := screenpipe.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("配置加载失败")
	}

	rec, err := recognizer.NewRecognizer(recognizer.Config{
		ModelPath:          cfg.Recognizer.ModelPath,
		DictPath:           cfg.Recognizer.DictPath,
		OnnxRuntimeLibPath: cfg.Recognizer.OnnxRuntimeLibPath,
		Accelerator:        recognizer.Accelerator(cfg.Recognizer.Accelerator),
	})
	if err != nil {
		// 识别不可用时在线管线仍可跑, 只出帧元数据
		log.Error().Err(err).Msg("识别器创建失败, 按识别不可用继续")
	}
	defer rec.Destroy()

	if imagePath != "" {
		if err := recognizeFile(rec, imagePath); err != nil {
			log.Fatal().Err(err).Msg("离线识别失败")
		}
		return
	}

	if err := runDaemon(cfg, rec, display.Token(uintptr(displayToken))); err != nil {
		log.Fatal().Err(err).Msg("守护进程退出")
	}
}

// recognizeFile 对整张图片做一次识别并打印结果
func recognizeFile(rec *recognizer.Recognizer, path string) error {
	if rec == nil {
		return fmt.Errorf("识别器不可用")
	}
	img, err := imageutil.Open(path)
	if err != nil {
		return fmt.Errorf("加载图像失败: %w", err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	w, h := bounds.Dx(), bounds.Dy()

	res := rec.Recognize(rgba.Pix, w, h, rgba.Stride, recognizer.RotatedRect{
		CenterX: float32(w) / 2,
		CenterY: float32(h) / 2,
		Width:   float32(w),
		Height:  float32(h),
	})
	log.Info().Str("text", res.Text).Float32("confidence", res.Confidence).
		Float64("elapsed_ms", res.ElapsedMS).Msg("识别完成")
	fmt.Println(res.Text)
	return nil
}

func runDaemon(cfg screenpipe.Config, rec *recognizer.Recognizer, token display.Token) error {
	defer abi.ReleaseDefaults()

	pipeline, err := capture.NewPipeline(int32(cfg.Capture.Width), int32(cfg.Capture.Height))
	if err != nil {
		return fmt.Errorf("采集管线创建失败: %w", err)
	}
	defer pipeline.Shutdown()

	if token.IsValid() {
		if err := pipeline.ConnectToDisplay(token,
			int32(cfg.Capture.Width), int32(cfg.Capture.Height)); err != nil {
			return fmt.Errorf("连接虚拟显示失败: %w", err)
		}
	} else {
		log.Warn().Msg("未提供显示句柄, 管线等待外部接入")
	}

	var sink *telemetry.Sink
	if cfg.Telemetry.Enabled {
		server, err := telemetry.NewServer(cfg.Telemetry.Port)
		if err != nil {
			return err
		}
		defer server.Close()
		sink = telemetry.NewSink(server, cfg.Telemetry.RateHz)
		defer sink.Close()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	delegate := ""
	if rec != nil {
		delegate = string(rec.ActiveDelegate())
	}

	var (
		frameCount uint64
		lastStamp  time.Time
		fps        float64
	)
	log.Info().Msg("进入采集循环")
	for {
		select {
		case sig := <-stop:
			log.Info().Str("signal", sig.String()).Msg("收到退出信号")
			return nil
		default:
		}

		acquireStart := time.Now()
		frame, ok := pipeline.AcquireFrameTimeout(acquireTimeout)
		if !ok {
			continue
		}
		frameCount++

		now := time.Now()
		if !lastStamp.IsZero() {
			if dt := now.Sub(lastStamp).Seconds(); dt > 0 {
				fps = 1 / dt
			}
		}
		lastStamp = now

		if sink != nil {
			sink.PushFrame(telemetry.FrameMeta{
				TimestampNS:    frame.TimestampNs,
				FPS:            fps,
				LatencyMS:      float64(now.Sub(acquireStart).Microseconds()) / 1000.0,
				FrameCount:     frameCount,
				ActiveDelegate: delegate,
			})
		}

		pipeline.ReleaseTexImage()
	}
}
