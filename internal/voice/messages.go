package voice

const (
	FollowUp       = " Would you like me to try again or help you with something else?"
	ChooseModeHint = "Please choose a mode first. Say detect object, read currency, read text, or describe scene."
	CameraWaitHint = "The camera is still starting. Please try again in a moment."
	AnalysisFailed = "Sorry, I could not analyze the picture. Please try again."
	StillNoSpeech  = "I still can't hear you. Start listening again when you are ready."
)

func recognitionRemediation(kind RecognitionErrorKind) string {
	switch kind {
	case RecognitionNoSpeech:
		return "I didn't hear anything. Please try speaking again."
	case RecognitionAborted:
		return "Listening was interrupted. Please try again."
	case RecognitionPermissionDenied:
		return "Microphone access was denied. Please allow microphone access, then start listening again."
	case RecognitionUnsupported:
		return "Speech recognition is not available on this device. You can still use the controls."
	case RecognitionNetwork:
		return "Speech recognition lost its connection. Please start listening again."
	default:
		return "I could not access the microphone. Please check that it is connected, then start listening again."
	}
}

func recognitionErrorCode(kind RecognitionErrorKind) ErrorCode {
	switch kind {
	case RecognitionNoSpeech, RecognitionAborted:
		return ErrorRecognitionTransient
	case RecognitionPermissionDenied:
		return ErrorRecognitionDenied
	case RecognitionUnsupported:
		return ErrorRecognitionUnsupported
	default:
		return ErrorRecognitionAudio
	}
}
