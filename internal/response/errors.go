package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrSessionNotFound     ErrCode = "SESSION_NOT_FOUND"
	ErrSessionNotActive    ErrCode = "SESSION_NOT_ACTIVE"
	ErrSessionTerminal     ErrCode = "SESSION_ALREADY_CLOSED"
	ErrSessionNotPaused    ErrCode = "SESSION_NOT_PAUSED"
	ErrInvalidNavigation   ErrCode = "INVALID_NAVIGATION"
	ErrUnknownQuestion     ErrCode = "UNKNOWN_QUESTION"
	ErrAssignmentNotFound  ErrCode = "ASSIGNMENT_NOT_FOUND"
	ErrAssignmentUntargets ErrCode = "ASSIGNMENT_NOT_AVAILABLE"

	// ─── Grace / resume ────────────────────────────────────────────────
	ErrGraceQuotaExhausted ErrCode = "GRACE_QUOTA_EXHAUSTED"
	ErrGraceInvalidSeconds ErrCode = "GRACE_INVALID_SECONDS"
	ErrGraceAlreadyDecided ErrCode = "GRACE_ALREADY_DECIDED"
	ErrGraceExpired        ErrCode = "GRACE_REQUEST_EXPIRED"
	ErrGraceNotFound       ErrCode = "GRACE_NOT_FOUND"
	ErrReconnectLimit      ErrCode = "RECONNECT_LIMIT_REACHED"
	ErrResumeNotAllowed    ErrCode = "RESUME_NOT_ALLOWED"
	ErrResumeUnknownOption ErrCode = "RESUME_UNKNOWN_OPTION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrTeacherAccessOnly:
		return "Sumber daya ini terbatas untuk pengajar."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."

	// ─── Session-specific ──────────────────────────────────────────────
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan."
	case ErrSessionNotActive:
		return "Sesi ujian tidak sedang berlangsung."
	case ErrSessionTerminal:
		return "Sesi ujian sudah berakhir dan tidak dapat diubah."
	case ErrSessionNotPaused:
		return "Sesi ujian tidak sedang dijeda."
	case ErrInvalidNavigation:
		return "Nomor soal berada di luar jangkauan."
	case ErrUnknownQuestion:
		return "Soal tidak termasuk dalam sesi ujian ini."
	case ErrAssignmentNotFound:
		return "Ujian tidak ditemukan."
	case ErrAssignmentUntargets:
		return "Ujian ini saat ini tidak tersedia."

	// ─── Grace / resume ────────────────────────────────────────────────
	case ErrGraceQuotaExhausted:
		return "Kuota waktu tambahan untuk sesi ini sudah habis."
	case ErrGraceInvalidSeconds:
		return "Jumlah waktu tambahan yang diminta tidak valid."
	case ErrGraceAlreadyDecided:
		return "Permintaan waktu tambahan ini sudah diputuskan."
	case ErrGraceExpired:
		return "Permintaan waktu tambahan sudah kedaluwarsa."
	case ErrGraceNotFound:
		return "Permintaan waktu tambahan tidak ditemukan."
	case ErrReconnectLimit:
		return "Batas maksimal koneksi ulang telah tercapai."
	case ErrResumeNotAllowed:
		return "Sesi ujian ini tidak dapat dilanjutkan."
	case ErrResumeUnknownOption:
		return "Pilihan pemulihan tidak dikenali."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
