package sfu

const (
	MimeH264 = "video/H264"
	MimeOpus = "audio/opus"

	DefaultVideoPayloadType uint8  = 96
	DefaultAudioPayloadType uint8  = 97
	DefaultVideoSSRC        uint32 = 222222
	DefaultAudioSSRC        uint32 = 111111
	DefaultProfileLevelID          = "42e01f"
)

type RtpCodecParameters struct {
	MimeType    string         `json:"mimeType"`
	ClockRate   int            `json:"clockRate"`
	Channels    int            `json:"channels,omitempty"`
	PayloadType uint8          `json:"payloadType"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type RtpEncoding struct {
	SSRC uint32 `json:"ssrc"`
}

type RtpParameters struct {
	Mid       string               `json:"mid"`
	Codecs    []RtpCodecParameters `json:"codecs"`
	Encodings []RtpEncoding        `json:"encodings"`
}

// VideoParams describes the H264 stream an encoder pushes to a video ingest transport.
type VideoParams struct {
	PayloadType    uint8  `json:"payloadType,omitempty" yaml:"payload_type"`
	SSRC           uint32 `json:"ssrc,omitempty" yaml:"ssrc"`
	ProfileLevelID string `json:"profileLevelId,omitempty" yaml:"profile_level_id"`
}

// AudioParams describes the Opus stream an encoder pushes to an audio ingest transport.
type AudioParams struct {
	PayloadType uint8  `json:"payloadType,omitempty" yaml:"payload_type"`
	SSRC        uint32 `json:"ssrc,omitempty" yaml:"ssrc"`
}

func DefaultVideoParams() VideoParams {
	return VideoParams{
		PayloadType:    DefaultVideoPayloadType,
		SSRC:           DefaultVideoSSRC,
		ProfileLevelID: DefaultProfileLevelID,
	}
}

func DefaultAudioParams() AudioParams {
	return AudioParams{PayloadType: DefaultAudioPayloadType, SSRC: DefaultAudioSSRC}
}

// WithDefaults fills zero fields from def.
func (p VideoParams) WithDefaults(def VideoParams) VideoParams {
	if p.PayloadType == 0 {
		p.PayloadType = def.PayloadType
	}
	if p.SSRC == 0 {
		p.SSRC = def.SSRC
	}
	if p.ProfileLevelID == "" {
		p.ProfileLevelID = def.ProfileLevelID
	}
	return p
}

func (p AudioParams) WithDefaults(def AudioParams) AudioParams {
	if p.PayloadType == 0 {
		p.PayloadType = def.PayloadType
	}
	if p.SSRC == 0 {
		p.SSRC = def.SSRC
	}
	return p
}

func (p VideoParams) RtpParameters() RtpParameters {
	return RtpParameters{
		Mid: "0",
		Codecs: []RtpCodecParameters{{
			MimeType:    MimeH264,
			ClockRate:   90000,
			PayloadType: p.PayloadType,
			Parameters: map[string]any{
				"packetization-mode":      1,
				"level-asymmetry-allowed": 1,
				"profile-level-id":        p.ProfileLevelID,
			},
		}},
		Encodings: []RtpEncoding{{SSRC: p.SSRC}},
	}
}

func (p AudioParams) RtpParameters() RtpParameters {
	return RtpParameters{
		Mid: "1",
		Codecs: []RtpCodecParameters{{
			MimeType:    MimeOpus,
			ClockRate:   48000,
			Channels:    2,
			PayloadType: p.PayloadType,
		}},
		Encodings: []RtpEncoding{{SSRC: p.SSRC}},
	}
}
