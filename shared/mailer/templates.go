package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
)

var layout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head><style>
body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; }
.card { background: #fff; border-radius: 8px; padding: 24px; max-width: 600px; margin: 0 auto; }
.title { font-size: 18px; font-weight: 600; margin-bottom: 8px; }
.body { color: #555; line-height: 1.6; }
</style></head>
<body>
<div class="card">
  <div class="title">{{.Title}}</div>
  {{range .Lines}}<p class="body">{{.}}</p>
  {{end}}<p class="body">The Prodexa team</p>
</div>
</body>
</html>`))

type page struct {
	Title string
	Lines []string
}

func render(to, subject string, p page) (Email, error) {
	var buf bytes.Buffer
	if err := layout.Execute(&buf, p); err != nil {
		return Email{}, fmt.Errorf("render email template: %w", err)
	}
	return Email{To: to, Subject: subject, HTML: buf.String()}, nil
}

func displayName(full contracts.FullName, username string) string {
	name := strings.TrimSpace(full.FirstName + " " + full.LastName)
	if name == "" {
		return username
	}
	return name
}

func Welcome(u contracts.UserCreated) (Email, error) {
	return render(u.Email, "Welcome to Prodexa", page{
		Title: fmt.Sprintf("Welcome, %s!", displayName(u.FullName, u.Username)),
		Lines: []string{
			"Thank you for registering with Prodexa. Your account is ready to use.",
		},
	})
}

func PaymentSucceeded(p contracts.PaymentCompleted) (Email, error) {
	return render(p.Email, "Payment successful", page{
		Title: fmt.Sprintf("Hi %s, we received your payment", p.Username),
		Lines: []string{
			fmt.Sprintf("Amount: %.2f %s", p.Amount, p.Currency),
			fmt.Sprintf("Order: %s", p.OrderID),
			fmt.Sprintf("Payment ID: %s", p.PaymentID),
		},
	})
}

func PaymentFailed(p contracts.PaymentFailed) (Email, error) {
	return render(p.Email, "Payment failed", page{
		Title: fmt.Sprintf("Hi %s, your payment did not go through", p.Username),
		Lines: []string{
			fmt.Sprintf("Order: %s", p.OrderID),
			fmt.Sprintf("Payment ID: %s", p.PaymentID),
			"No money was taken. Please try again or use another payment method.",
		},
	})
}

func ProductLive(p contracts.ProductLive) (Email, error) {
	return render(p.Email, "Your product is live", page{
		Title: fmt.Sprintf("Hi %s, your product is now live", p.Username),
		Lines: []string{
			fmt.Sprintf("Product ID: %s", p.ProductID),
			"Customers can now find and buy it on Prodexa.",
		},
	})
}
