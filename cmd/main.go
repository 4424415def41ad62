package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	// for performance test
	"net/http"
	_ "net/http/pprof"

	"github.com/research1-alt/Can-Log-Convertor-analyzer/base"
	"github.com/research1-alt/Can-Log-Convertor-analyzer/can"
	"github.com/research1-alt/Can-Log-Convertor-analyzer/dbc"
	"github.com/research1-alt/Can-Log-Convertor-analyzer/rwmap"
	"github.com/research1-alt/Can-Log-Convertor-analyzer/rwslice"
	"github.com/research1-alt/Can-Log-Convertor-analyzer/whitelist"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	// udp recv buf
	BufSize    = 8 * 1024
	ConfigPath = "./config.json"
)

type RecvData struct {
	RecvTime int64
	Data     []byte
}

var (
	CanDataChan = make(chan RecvData, base.GConfig.DataChanSize)
	signals     = make(chan os.Signal, 1)
	done        = make(chan struct{})
)

var (
	wg           sync.WaitGroup
	log          = base.Logger
	matrix       *dbc.Matrix
	mergeMap     *rwmap.RWFrameMap
	recentFrames *rwslice.FrameQueue
)

var TotalFrames atomic.Int64

var totalChunks, totalLoseChunk, totalMerged, totalLoseLine atomic.Int64

func init() {
	log.SetReportCaller(true)

	switch base.GConfig.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: base.TimestampFormat,
		})
	case "text":
		fallthrough
	default:
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: base.TimestampFormat,
		})
	}
}

func main() {
	if err := base.LoadConfig(ConfigPath); err != nil {
		fmt.Println("Load config failed, keep defaults. ", err)
	} else {
		fmt.Println("Load config success !!!")
	}

	logFile, err := initLog()
	defer logFile.Close()
	if err != nil {
		os.Exit(1)
	}
	log.Debugln("Init log success !!!")

	if !loadMatrix() {
		log.Errorln("Load matrix failed !!!")
		os.Exit(1)
	}
	log.Debugf("Load matrix success !!! messages(%d)", matrix.Len())

	if ok, err := whitelist.Init(base.GConfig.WhiteListFile, &wg, base.GConfig.EnableWhiteList, matrix); !ok {
		log.Errorln(err)
		return
	}

	if base.GConfig.TestMode {
		startPProf(&base.GConfig.PProf)
	}

	// Trap SIGINT to trigger a graceful shutdown.
	signal.Notify(signals, os.Interrupt)
	wg.Add(1)
	go handleQuit(&wg)

	recentFrames = rwslice.NewFrameQueue(base.GConfig.RecentFrames)

	var client *paho.Client
	if base.GConfig.Broker != "" {
		client = initMQTT()
		defer client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}

	wg.Add(1)
	go startHttpServer(&wg)

	if base.GConfig.CalcFrameRate {
		ticker := calcFrameRate(base.GConfig.CalcFrameRateInterval, &TotalFrames)
		defer ticker.Stop()
	}

	if base.GConfig.LiveMode {
		mergeMap = rwmap.NewRWFrameMap(2 * 1024)

		for i := 0; i < base.GConfig.WorkRoutines; i++ {
			wg.Add(1)
			go handleData(client)
		}

		if base.GConfig.IsFilterFrame {
			go flushMerged(client)
		}

		go readData()
		wg.Wait()
		return
	}

	files := os.Args[1:]
	if len(files) == 0 {
		log.Errorln("No log file given !!!")
		return
	}

	for _, path := range files {
		processFile(path, client)
	}
}

func calcFrameRate(interval int, totalFrames *atomic.Int64) *time.Ticker {
	t := time.NewTicker(time.Duration(interval) * time.Second)

	go func(t *time.Ticker) {
		for {
			<-t.C
			log.Infof("(%f)fps", float64(totalFrames.Load())/float64(interval))
			totalFrames.Store(0)
		}
	}(t)

	return t
}

func loadMatrix() bool {
	if base.GConfig.EmbedDBC {
		matrix = dbc.Default()
	} else {
		f, err := os.Open(base.GConfig.DBCPath)
		if err != nil {
			log.Errorln(err)
			return false
		}
		defer f.Close()

		p := dbc.NewParser(f)
		matrix = p.Parse()
		if p.Err() != nil {
			log.Errorln(p.Err())
			return false
		}
	}

	// 一条报文都没解出来是调用方可见的空结果状态, 不是解析错误
	if matrix.Len() == 0 {
		log.Warnln("Matrix has no message !!!")
	}
	return true
}

func processFile(path string, client *paho.Client) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Errorln(err)
		return
	}

	frames := can.Parse(string(data), path, base.GConfig.DefaultOrder)
	if len(frames) == 0 {
		// 整份文件没出一帧同样是空结果状态
		log.Warnf("No frames produced from (%s)", path)
		return
	}

	decoded := can.DecodeFramesParallel(frames, matrix, base.GConfig.DecodeRoutines)
	TotalFrames.Add(int64(len(decoded)))

	for i := range decoded {
		recentFrames.Append(&decoded[i])
	}

	hit, miss := whitelist.Split(decoded)
	publish(client, hit, miss)
}

func readData() {
	udpHandle, err := initInterface()
	if err != nil {
		log.Fatalln(err)
	}
	defer udpHandle.Close()

	var n int
	var addr net.Addr
	var readErrCnt int

	buf := make([]byte, BufSize)
	for {
		n, addr, err = udpHandle.ReadFrom(buf)

		var recvData RecvData
		recvData.RecvTime = time.Now().UnixMicro()

		if err != nil {
			if io.EOF == err {
				log.Debugln(err)
				continue
			}
			readErrCnt++
			udpHandle, _ = initInterface()

			//防止重试打开失败后,日志撑爆硬盘
			if readErrCnt <= 10 {
				log.Errorln(err)
			}
			continue
		}
		readErrCnt = 0

		if addr != nil {
			log.Debugf("Read %d byte data from %s", n, addr.String())
		}

		if n <= 0 {
			continue
		}

		totalChunks.Add(1)
		recvData.Data = make([]byte, n)
		copy(recvData.Data, buf)

		select {
		case CanDataChan <- recvData:
		default:
			totalLoseChunk.Add(1)
		}
	}
}

func initInterface() (net.PacketConn, error) {
	cfg := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}

	udpHandle, err := cfg.ListenPacket(context.Background(), "udp", base.GConfig.UdpServer.Host)
	if err != nil {
		return nil, err
	}

	log.Debugf("Open %s success !!!", base.GConfig.UdpServer.Host)
	return udpHandle, nil
}

// handleData 实时流worker: 每个UDP包是一段日志文本, 逐行解析再解码
func handleData(client *paho.Client) {
	defer wg.Done()

	for data := range CanDataChan {
		if len(data.Data) <= 0 {
			continue
		}

		frames := can.Parse(string(data.Data), "", base.GConfig.DefaultOrder)
		if len(frames) == 0 {
			totalLoseLine.Add(1)
			continue
		}

		decoded := can.DecodeFrames(frames, matrix)
		TotalFrames.Add(int64(len(decoded)))

		for i := range decoded {
			recentFrames.Append(&decoded[i])
		}

		if base.GConfig.IsFilterFrame {
			// 按canId去重, 只留窗口内最新帧
			for i := range decoded {
				mergeMap.Set(decoded[i].CanId, &decoded[i])
			}
		} else {
			hit, miss := whitelist.Split(decoded)
			publish(client, hit, miss)
		}
	}

	log.Debugln("HandleData quit !!!")
}

// flushMerged 定期把合并窗口整体刷给下游
func flushMerged(client *paho.Client) {
	t := time.NewTicker(time.Duration(base.GConfig.FilterInterval) * time.Millisecond)
	defer t.Stop()

	for range t.C {
		if mergeMap.Len() <= 0 {
			continue
		}

		frames := mergeMap.Snapshot()
		mergeMap.Clear()
		totalMerged.Add(int64(len(frames)))

		hit, miss := whitelist.Split(frames)
		publish(client, hit, miss)
	}
}

func publish(client *paho.Client, hit, miss []can.Frame) {
	if len(hit) > 0 {
		jData, err := can.MarshalFrames(hit)
		if err != nil {
			log.Errorln(err)
		} else if client == nil {
			os.Stdout.Write(append(jData, '\n'))
		} else if _, err := client.Publish(context.Background(), &paho.Publish{
			Topic:   base.GConfig.WhiteList.Topic,
			QoS:     byte(base.GConfig.WhiteList.Qos),
			Retain:  base.GConfig.WhiteList.Retained,
			Payload: jData,
		}); err != nil {
			log.Errorln("WhiteList error sending message: ", err)
		}
	} else {
		log.Debugln("No white list data")
	}

	if len(miss) > 0 {
		rawData := rawLines(miss)
		if client == nil {
			log.Debugf("Drop %d non-whitelist frames, no broker", len(miss))
		} else if _, err := client.Publish(context.Background(), &paho.Publish{
			Topic:   base.GConfig.NonWhiteList.Topic,
			QoS:     byte(base.GConfig.NonWhiteList.Qos),
			Retain:  base.GConfig.NonWhiteList.Retained,
			Payload: rawData,
		}); err != nil {
			log.Errorln("NonWhiteList error sending message: ", err)
		}
	} else {
		log.Debugln("No raw data")
	}
}

// rawLines 未命中白名单的帧按原始行格式回放
// "1690681909.5 0x174 Rx d 8 00 00 00 AA 0D 00 00 00"
func rawLines(frames []can.Frame) []byte {
	var rawData strings.Builder
	for i := range frames {
		frame := &frames[i]

		rawData.WriteString(strconv.FormatFloat(frame.Timestamp, 'f', -1, 64))
		rawData.WriteString(" ")
		rawData.WriteString(frame.CanId)
		rawData.WriteString(" ")

		switch frame.Direction {
		case can.DirRecv:
			rawData.WriteString("Rx d")
		case can.DirSend:
			rawData.WriteString("Tx d")
		default:
		}

		rawData.WriteString(" ")
		rawData.WriteString(strconv.Itoa(frame.Dlc))
		for _, tok := range frame.Data {
			rawData.WriteString(" ")
			rawData.WriteString(tok)
		}

		// append LF
		rawData.WriteString("\n")
	}

	return []byte(rawData.String())
}

func handleQuit(wg *sync.WaitGroup) {
	defer wg.Done()

	select {
	case <-signals:
		log.Debugln("recv interrupt signal")
		log.Infof("totalChunks(%d), totalLoseChunk(%d), totalFrames(%d), totalMerged(%d), totalLoseLine(%d)",
			totalChunks.Load(), totalLoseChunk.Load(), TotalFrames.Load(), totalMerged.Load(), totalLoseLine.Load())

		time.Sleep(1 * time.Second)
		close(done)
		os.Exit(0)
	}
}

func initLog() (io.ReadWriteCloser, error) {
	var err error
	var logFile *os.File
	if base.GConfig.LogToFile {
		err = os.MkdirAll("./log", os.ModePerm)
		if err != nil {
			return nil, err
		}

		logName := "./log/" + filepath.Base(os.Args[0])
		now := time.Now()
		strTime := time.Unix(now.Unix(), now.UnixNano()).Format(base.TimestampFormat)
		strTime = strings.Replace(strTime, ":", "_", -1)
		logName += "." + strTime + ".log"

		logFile, err = os.OpenFile(logName, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o666)
		if err != nil {
			return nil, err
		}
		fmt.Printf("Open %s success !\n", logName)

		log.SetOutput(logFile)
		log.Printf("Open %s success !\n", logName)
	}

	if level, err := logrus.ParseLevel(base.GConfig.LogLevel); err != nil {
		fmt.Println("ParseLevel failed !!! ", base.GConfig.LogLevel, err)
		return logFile, err
	} else {
		log.SetLevel(level)
	}

	return logFile, nil
}

func startPProf(pprof *base.PProf) {
	server := &HttpServer{
		Server: &http.Server{
			Addr:    pprof.Addr,
			Handler: nil,
		},
	}

	go server.WaitExitSignal(pprof.Timeout * time.Second)
	go func(server *HttpServer) {
		err := server.ListenAndServe()
		if err != nil {
			log.Errorln("unexpected error from ListenAndServe: ", "reason:", err)
		}

		log.Debugln("pprof goroutine exited.")
	}(server)
}

func initMQTT() *paho.Client {
	tcpConn, err := net.Dial("tcp", base.GConfig.Broker)
	if err != nil {
		log.Fatalln("Failed to connect to ", base.GConfig.Broker, "reason:", err)
	}
	log.Debugln("Success to connect to ", base.GConfig.Broker)

	tcpConn = packets.NewThreadSafeConn(tcpConn)

	client := paho.NewClient(paho.ClientConfig{
		Conn: tcpConn,
	})

	cp := &paho.Connect{
		KeepAlive:  30,
		ClientID:   base.GConfig.Clientid,
		CleanStart: true,
		Username:   base.GConfig.Username,
		Password:   []byte(base.GConfig.Password),
	}

	if base.GConfig.Username != "" {
		cp.UsernameFlag = true
	}
	if base.GConfig.Password != "" {
		cp.PasswordFlag = true
	}

	ca, err := client.Connect(context.Background(), cp)
	if err != nil {
		log.Fatalln(err)
	}

	if ca.ReasonCode != 0 {
		log.Fatalf("Failed to connect to %s : %d - %s", base.GConfig.Broker, ca.ReasonCode, ca.Properties.ReasonString)
	}

	log.Debugf("Connected to %s\n", base.GConfig.Broker)
	return client
}

func startHttpServer(wg *sync.WaitGroup) {
	defer wg.Done()
	http.HandleFunc(base.GConfig.HttpServer.HealthCheckURI, Pong)                 // ping路由
	http.HandleFunc(base.GConfig.HttpServer.WhiteListURI, whitelist.SetWhiteList) // 设置白名单
	http.HandleFunc(base.GConfig.HttpServer.FramesURI, RecentFrames)              // 最近帧查询
	http.ListenAndServe(base.GConfig.HttpServer.ServerAddr, nil)
}

func Pong(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func RecentFrames(w http.ResponseWriter, r *http.Request) {
	frames := recentFrames.Recent(0)
	jData, err := can.MarshalFrames(frames)
	if err != nil {
		log.Errorln(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(jData)
}
