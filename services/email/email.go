package emailsvc

import "github.com/trezcool/planner/core"

// Service is an email service whose pending deliveries can be awaited before a short-lived process exits.
type Service interface {
	core.EmailService
	Wait()
}
