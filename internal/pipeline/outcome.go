package pipeline

import "errors"

// ErrAdapter marks a model-capability failure during a verification. It is a
// system fault, unlike a rejection.
var ErrAdapter = errors.New("vision adapter failure")

// Stage names the pipeline gate that produced an outcome.
type Stage string

const (
	StageSameImage      Stage = "same_image"
	StageDocumentShape  Stage = "document_shape"
	StageIDPresence     Stage = "id_presence"
	StageSelfieDocument Stage = "selfie_document"
	StagePerson         Stage = "person"
	StageSpoof          Stage = "spoof"
	StageFaceCrop       Stage = "face_crop"
	StageSelfieFace     Stage = "selfie_face"
	StageIDFace         Stage = "id_face"
	StageCompare        Stage = "compare"
)

// User-facing rejection messages.
const (
	MsgSameImage        = "You cannot use the same image for both selfie and ID verification. Please upload different images."
	MsgDocumentFraming  = "Please ensure your ID document is clearly visible and properly framed in the image."
	MsgNoIDDocument     = "Please upload a clear image of your ID document. The system could not detect an ID card in the image."
	MsgNoIDInSelfie     = "Please make sure your ID document is clearly visible in the selfie image."
	MsgNoPerson         = "Could not detect person in selfie image."
	MsgFlatArtifact     = "The ID in your selfie looks like a photo of a screen or a printout. Please hold your physical ID document."
	MsgEmptyCrop        = "Could not properly crop face from selfie"
	MsgBadExposure      = "Face in selfie is not clearly visible. Please ensure proper lighting."
	MsgCropTooSmall     = "Face in selfie is too small or unclear"
	MsgNoSelfieFace     = "Could not detect face in selfie. Please ensure your face is clearly visible and centered."
	MsgNoSelfieEncoding = "Could not process face from selfie. Please ensure your face is clearly visible and well-lit."
	MsgIDFaceCount      = "ID image must contain exactly one face"
	MsgNoIDEncoding     = "Could not process the face on your ID image. Please upload a sharper photo."
)

// Evidence records what one document signal concluded.
type Evidence struct {
	Source     string  `json:"source"`
	Found      bool    `json:"found"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Outcome is the result of one verification. Match and Message are always set;
// Confidence and Distance only once faces were compared.
type Outcome struct {
	Match          bool       `json:"match"`
	Message        string     `json:"message"`
	Stage          Stage      `json:"stage"`
	Confidence     *float64   `json:"confidence,omitempty"`
	Distance       *float64   `json:"distance,omitempty"`
	SpoofSuspected bool       `json:"spoof_suspected"`
	Evidence       []Evidence `json:"evidence,omitempty"`
}

// FaceDetected reports whether a face was found in the selfie.
func (o Outcome) FaceDetected() bool {
	switch o.Stage {
	case StageIDFace, StageCompare:
		return true
	}
	return false
}
