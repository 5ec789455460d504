package email

import (
	"context"
	"fmt"
	"html"
	"strings"
)

// Message builders for every transactional email. Copy is in Spanish, the
// language of the product.

const footer = `<p style="color:#888;font-size:12px">Narra · Historias que perduran</p>`

func layout(title, inner string) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><body style="font-family:Georgia,serif;max-width:560px;margin:0 auto;padding:24px"><h2>%s</h2>%s%s</body></html>`,
		html.EscapeString(title), inner, footer)
}

func button(link, label string) string {
	return fmt.Sprintf(`<p><a href="%s" style="background:#3d5a80;color:#fff;padding:12px 20px;border-radius:6px;text-decoration:none">%s</a></p>`,
		html.EscapeString(link), html.EscapeString(label))
}

func tags(kind string) []Tag {
	return []Tag{{Name: "category", Value: kind}}
}

// SendLoginPIN sends the 6-digit sign-in code.
func (c *Client) SendLoginPIN(ctx context.Context, to, pin string) error {
	_, err := c.Send(ctx, Message{
		To:      []string{to},
		Subject: "Tu código de acceso a Narra",
		HTML: layout("Tu código de acceso",
			fmt.Sprintf(`<p>Usa este código para entrar a Narra:</p><p style="font-size:32px;letter-spacing:6px"><strong>%s</strong></p><p>El código caduca en 1 hora. Si no lo pediste, ignora este correo.</p>`, html.EscapeString(pin))),
		Text: fmt.Sprintf("Tu código de acceso a Narra es: %s\n\nEl código caduca en 1 hora. Si no lo pediste, ignora este correo.", pin),
		Tags: tags("login_pin"),
	})
	return err
}

// SendMagicLink sends a sign-in link.
func (c *Client) SendMagicLink(ctx context.Context, to, link string) error {
	_, err := c.Send(ctx, Message{
		To:      []string{to},
		Subject: "Tu enlace para entrar a Narra",
		HTML: layout("Entra a Narra",
			`<p>Haz clic en el botón para entrar a tu cuenta:</p>`+button(link, "Entrar a Narra")+
				`<p>El enlace solo puede usarse una vez y caduca pronto.</p>`),
		Text: fmt.Sprintf("Entra a tu cuenta de Narra con este enlace:\n\n%s\n\nEl enlace solo puede usarse una vez y caduca pronto.", link),
		Tags: tags("magic_link"),
	})
	return err
}

type GiftManagement struct {
	BuyerEmail string
	BuyerName  string
	AuthorName string
	ManageURL  string
}

// SendGiftManagement gives the buyer the link to manage the gifted account.
func (c *Client) SendGiftManagement(ctx context.Context, g GiftManagement) error {
	who := g.AuthorName
	if who == "" {
		who = "la persona que recibe tu regalo"
	}
	greeting := "Hola"
	if g.BuyerName != "" {
		greeting = "Hola " + g.BuyerName
	}
	_, err := c.Send(ctx, Message{
		To:      []string{g.BuyerEmail},
		Subject: "Gracias por regalar Narra",
		HTML: layout("¡Gracias por tu regalo!",
			fmt.Sprintf(`<p>%s,</p><p>Tu regalo para %s está listo. Desde este enlace puedes añadir suscriptores, cambiar el correo del autor, descargar sus historias o reenviarle su acceso:</p>`,
				html.EscapeString(greeting), html.EscapeString(who))+
				button(g.ManageURL, "Gestionar regalo")+
				`<p>Guarda este correo: el enlace es personal.</p>`),
		Text: fmt.Sprintf("%s,\n\nTu regalo para %s está listo. Gestiónalo aquí:\n\n%s\n\nGuarda este correo: el enlace es personal.", greeting, who, g.ManageURL),
		Tags: tags("gift_management"),
	})
	return err
}

type GiftWelcome struct {
	AuthorEmail string
	AuthorName  string
	BuyerName   string
	Message     string
	Link        string
}

// SendGiftWelcome tells the author someone gifted them Narra.
func (c *Client) SendGiftWelcome(ctx context.Context, g GiftWelcome) error {
	from := g.BuyerName
	if from == "" {
		from = "Alguien especial"
	}
	var note string
	if strings.TrimSpace(g.Message) != "" {
		note = fmt.Sprintf(`<blockquote style="border-left:3px solid #ccc;padding-left:12px">%s</blockquote>`, html.EscapeString(g.Message))
	}
	_, err := c.Send(ctx, Message{
		To:      []string{g.AuthorEmail},
		Subject: "Te han regalado Narra",
		HTML: layout("Te han regalado Narra",
			fmt.Sprintf(`<p>%s te ha regalado Narra para que cuentes tus historias.</p>`, html.EscapeString(from))+
				note+button(g.Link, "Empezar a escribir")),
		Text: fmt.Sprintf("%s te ha regalado Narra para que cuentes tus historias.\n\n%s\n\nEmpieza aquí: %s", from, g.Message, g.Link),
		Tags: tags("gift_welcome"),
	})
	return err
}

// SendSubscriberWelcome lets a new subscriber know whose stories they will receive.
func (c *Client) SendSubscriberWelcome(ctx context.Context, to, authorName string) error {
	if authorName == "" {
		authorName = "un autor de Narra"
	}
	_, err := c.Send(ctx, Message{
		To:      []string{to},
		Subject: fmt.Sprintf("Ahora recibirás las historias de %s", authorName),
		HTML: layout("Nueva suscripción",
			fmt.Sprintf(`<p>Te hemos suscrito a las historias de <strong>%s</strong> en Narra. Recibirás un correo cada vez que publique algo nuevo.</p>`, html.EscapeString(authorName))),
		Text: fmt.Sprintf("Te hemos suscrito a las historias de %s en Narra. Recibirás un correo cada vez que publique algo nuevo.", authorName),
		Tags: tags("subscriber_added"),
	})
	return err
}

// SendEmailChangeConfirm asks the new address to confirm the change.
func (c *Client) SendEmailChangeConfirm(ctx context.Context, to, confirmURL string) error {
	_, err := c.Send(ctx, Message{
		To:      []string{to},
		Subject: "Confirma tu nuevo correo en Narra",
		HTML: layout("Confirma tu nuevo correo",
			`<p>Pediste usar esta dirección para tu cuenta de Narra. Confírmala con el botón:</p>`+
				button(confirmURL, "Confirmar correo")+`<p>El enlace caduca en 24 horas.</p>`),
		Text: fmt.Sprintf("Confirma tu nuevo correo de Narra aquí:\n\n%s\n\nEl enlace caduca en 24 horas.", confirmURL),
		Tags: tags("email_change_confirm"),
	})
	return err
}

// SendEmailChangeNotice warns the old address and offers a revert link.
func (c *Client) SendEmailChangeNotice(ctx context.Context, to, newEmail, revertURL string) error {
	_, err := c.Send(ctx, Message{
		To:      []string{to},
		Subject: "Se solicitó un cambio de correo en tu cuenta de Narra",
		HTML: layout("Cambio de correo",
			fmt.Sprintf(`<p>Se pidió cambiar el correo de tu cuenta a <strong>%s</strong>.</p><p>Si no fuiste tú, revierte el cambio:</p>`, html.EscapeString(newEmail))+
				button(revertURL, "Revertir cambio")),
		Text: fmt.Sprintf("Se pidió cambiar el correo de tu cuenta de Narra a %s.\n\nSi no fuiste tú, revierte el cambio aquí: %s", newEmail, revertURL),
		Tags: tags("email_change_notice"),
	})
	return err
}

// SendAuthorEmailChanged notifies an address that the account email changed.
func (c *Client) SendAuthorEmailChanged(ctx context.Context, to, newEmail string) error {
	_, err := c.Send(ctx, Message{
		To:      []string{to},
		Subject: "El correo de tu cuenta de Narra ha cambiado",
		HTML: layout("Correo actualizado",
			fmt.Sprintf(`<p>El correo de la cuenta de Narra ahora es <strong>%s</strong>.</p>`, html.EscapeString(newEmail))),
		Text: fmt.Sprintf("El correo de la cuenta de Narra ahora es %s.", newEmail),
		Tags: tags("email_changed"),
	})
	return err
}
