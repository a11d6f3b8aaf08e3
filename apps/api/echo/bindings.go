package echoapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/planner/core"
	"github.com/trezcool/planner/core/planner"
)

type (
	SignInRequest struct {
		Email      string `json:"email" validate:"required,email"`
		Credential string `json:"credential" validate:"required"`
	}

	SignInLinkRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	CompleteSignInLinkRequest struct {
		Email string `json:"email" validate:"omitempty,email"`
		Link  string `json:"link" validate:"required,url"`
	}

	TokenResponse struct {
		Token string `json:"token"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	AttendanceRequest struct {
		Status planner.AttendanceStatus `json:"status"`
		Toggle bool                     `json:"toggle"`
	}

	AttendanceResponse struct {
		StudentID string                   `json:"student_id"`
		Date      string                   `json:"date"`
		Status    planner.AttendanceStatus `json:"status"`
	}

	DayAttendanceResponse struct {
		Date       string                              `json:"date"`
		Attendance map[string]planner.AttendanceStatus `json:"attendance"` // {studentID: status}
	}
)

func (r *SignInRequest) Validate(validate *validator.Validate) error {
	r.Email = core.CleanString(r.Email, true /* lower */)
	return validate.Struct(r)
}

func (r *SignInLinkRequest) Validate(validate *validator.Validate) error {
	r.Email = core.CleanString(r.Email, true /* lower */)
	return validate.Struct(r)
}

func (r *CompleteSignInLinkRequest) Validate(validate *validator.Validate) error {
	r.Email = core.CleanString(r.Email, true /* lower */)
	r.Link = core.CleanString(r.Link)
	return validate.Struct(r)
}

func (r *AttendanceRequest) Clean() {
	r.Status = planner.AttendanceStatus(core.CleanString(string(r.Status), true /* lower */))
}
