package codec

// Channel 操作码高两位
type Channel byte

const (
	ChannelWrite       Channel = 0
	ChannelRead        Channel = 1
	ChannelCycledWrite Channel = 2
	ChannelCommand     Channel = 3
)

// 命令通道上的简单功能码
const (
	Pause      byte = 10
	Unpause    byte = 11
	Mute       byte = 12
	Unmute     byte = 13
	ResetSID   byte = 14
	DisableSID byte = 15
	EnableSID  byte = 16
	ClearBus   byte = 17
	Config     byte = 18
	ResetMCU   byte = 19
	Bootloader byte = 20
)

// CONFIG 帧的子命令 (帧的第二个字节)
const (
	ResetUSBSID   byte = 0x20
	ReadConfig    byte = 0x30
	ApplyConfig   byte = 0x31
	SetConfig     byte = 0x32
	SaveConfig    byte = 0x33
	SaveNoReset   byte = 0x34
	ResetConfig   byte = 0x35
	WriteConfig   byte = 0x36
	ReadSocketCfg byte = 0x37
	ReloadConfig  byte = 0x38

	SingleSID    byte = 0x40
	DualSID      byte = 0x41
	QuadSID      byte = 0x42
	TripleSID    byte = 0x43
	TripleSIDTwo byte = 0x44
	MirroredSID  byte = 0x45
	DualSocket1  byte = 0x46
	DualSocket2  byte = 0x47
	FlipSockets  byte = 0x48

	SetClock    byte = 0x50
	DetectSIDs  byte = 0x51
	TestAllSIDs byte = 0x52
	TestSID1    byte = 0x53
	TestSID2    byte = 0x54
	TestSID3    byte = 0x55
	TestSID4    byte = 0x56
	LockClock   byte = 0x58
	StopTests   byte = 0x59

	LoadMIDIState  byte = 0x60
	SaveMIDIState  byte = 0x61
	ResetMIDIState byte = 0x63

	USBSIDVersion byte = 0x80
	ToggleAudio   byte = 0x88
)

// Presets 拓扑预设名 -> 子命令
var Presets = map[string]byte{
	"single":       SingleSID,
	"dual":         DualSID,
	"quad":         QuadSID,
	"triple":       TripleSID,
	"triple-two":   TripleSIDTwo,
	"mirrored":     MirroredSID,
	"dual-socket1": DualSocket1,
	"dual-socket2": DualSocket2,
	"flip":         FlipSockets,
}

// ConfigButtons 不带参数的 CONFIG 子命令 (按钮类操作)
var ConfigButtons = map[string]byte{
	"reset-usbsid":     ResetUSBSID,
	"apply":            ApplyConfig,
	"detect-sids":      DetectSIDs,
	"test-all":         TestAllSIDs,
	"test-sid1":        TestSID1,
	"test-sid2":        TestSID2,
	"test-sid3":        TestSID3,
	"test-sid4":        TestSID4,
	"stop-tests":       StopTests,
	"load-midi-state":  LoadMIDIState,
	"save-midi-state":  SaveMIDIState,
	"reset-midi-state": ResetMIDIState,
	"toggle-audio":     ToggleAudio,
}

// SimpleCommands 命令通道上的三字节命令
var SimpleCommands = map[string]byte{
	"pause":       Pause,
	"unpause":     Unpause,
	"mute":        Mute,
	"unmute":      Unmute,
	"reset-sid":   ResetSID,
	"disable-sid": DisableSID,
	"enable-sid":  EnableSID,
	"clear-bus":   ClearBus,
	"reset-mcu":   ResetMCU,
	"bootloader":  Bootloader,
}
