package base

import (
	"os"
	"time"

	gojson "github.com/goccy/go-json"
)

type MQTTTopic struct {
	Topic    string
	Qos      int
	Retained bool
}

type MQTT struct {
	WhiteList    MQTTTopic
	NonWhiteList MQTTTopic
	Broker       string
	Clientid     string
	Username     string
	Password     string
}

type HttpServer struct {
	ServerAddr     string // in the form "host:port"
	HealthCheckURI string // default: /ping
	WhiteListURI   string
	FramesURI      string // 最近帧查询
}

type LOG struct {
	LogToFile bool
	Format    string // json, text
	LogLevel  string // panic, fatal, error, warn warning, info, debug, trace
}

type PProf struct {
	Addr    string
	Timeout time.Duration
}

type TEST struct {
	TestMode        bool
	EnableWhiteList bool
	PProf           `json:"PProf"`
}

type UdpServer struct {
	Host string
}

type DataSoure struct {
	LiveMode  bool //true:UDP实时文本流, false:解析命令行指定的日志文件
	UdpServer `json:"UdpServer"`
}

type Filter struct {
	IsFilterFrame  bool
	FilterInterval int // ms, 按canId去重的合并窗口
}

type DBC struct {
	EmbedDBC bool //true:使用内嵌的默认矩阵, false:从DBCPath读取
	DBCPath  string
}

type LogParser struct {
	DefaultOrder []string // 扩展名无法识别时的解析器顺序
}

type Config struct {
	MQTT                  `json:"MQTT"`
	HttpServer            `json:"HttpServer"`
	DataChanSize          uint
	WorkRoutines          int
	DecodeRoutines        int
	DBC                   `json:"DBC"`
	LogParser             `json:"LogParser"`
	WhiteListFile         string
	RecentFrames          int
	LOG                   `json:"LOG"`
	Filter                `json:"Filter"`
	CalcFrameRate         bool
	CalcFrameRateInterval int
	TEST                  `json:"TEST"`
	DataSoure             `json:"DataSoure"`
}

func NewConfig() *Config {
	return &Config{
		MQTT{},
		HttpServer{":8080", "/ping", "/whitelist", "/frames"},
		10000,
		10,
		10,
		DBC{true, "./can.dbc"},
		LogParser{[]string{"asc", "log", "txt"}},
		"./whitelist.json",
		2048,
		LOG{false, "text", "info"},
		Filter{true, 10},
		false,
		5,
		TEST{},
		DataSoure{},
	}
}

var GConfig = NewConfig()

func LoadConfig(path string) error {
	jData, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return gojson.Unmarshal(jData, GConfig)
}
