package conversation

import (
	"fmt"

	"github.com/harun/printdesk/pkg/printjob"
)

// Messages are the texts sent to users. Menu, CopiesPrompt and Printing are
// format strings.
type Messages struct {
	Welcome           string
	Menu              string // file name
	InvalidAttachment string
	ExpectedOption    string
	InvalidOption     string
	CopiesPrompt      string // color label
	ExpectedNumber    string
	InvalidNumber     string
	Printing          string // copies, file name, color text
	Success           string
	Failure           string
	Generic           string
	Expired           string
}

// DefaultMessages returns the Portuguese texts
func DefaultMessages() Messages {
	return Messages{
		Welcome:           "Olá! Bem-vindo(a) ao nosso serviço de impressão automática. Por favor, envie o documento que você deseja imprimir (PDF, DOCX, JPG, PNG).",
		Menu:              "Arquivo \"%s\" recebido!\n\nComo será a impressão?\nDigite o número da opção desejada:\n1. Preto e Branco\n2. Colorida",
		InvalidAttachment: "Por favor, envie um arquivo válido (PDF, DOCX, JPG ou PNG).",
		ExpectedOption:    "Opção inválida. Por favor, responda com o número da opção desejada.",
		InvalidOption:     "Opção inválida. Por favor, digite 1 para Preto e Branco ou 2 para Colorida.",
		CopiesPrompt:      "Ok, impressão %s.\n\nE quantas cópias você deseja?",
		ExpectedNumber:    "Por favor, digite um número válido para a quantidade de cópias.",
		InvalidNumber:     "Por favor, digite um número válido e positivo.",
		Printing:          "Ok, imprimindo %d cópia(s) de \"%s\" em modo %s. Aguarde...",
		Success:           "Pronto! Seu documento foi enviado para a impressora. Você pode retirá-lo no balcão.",
		Failure:           "Ocorreu um erro ao enviar seu documento para a impressora. Verifique se o bot está configurado corretamente ou fale com um de nossos atendentes.",
		Generic:           "Ocorreu um erro inesperado. Por favor, digite \"olá\" para recomeçar.",
		Expired:           "Sua sessão expirou por inatividade. Digite \"oi\" para recomeçar.",
	}
}

// withDefaults fills empty texts from DefaultMessages
func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&m.Welcome, d.Welcome)
	fill(&m.Menu, d.Menu)
	fill(&m.InvalidAttachment, d.InvalidAttachment)
	fill(&m.ExpectedOption, d.ExpectedOption)
	fill(&m.InvalidOption, d.InvalidOption)
	fill(&m.CopiesPrompt, d.CopiesPrompt)
	fill(&m.ExpectedNumber, d.ExpectedNumber)
	fill(&m.InvalidNumber, d.InvalidNumber)
	fill(&m.Printing, d.Printing)
	fill(&m.Success, d.Success)
	fill(&m.Failure, d.Failure)
	fill(&m.Generic, d.Generic)
	fill(&m.Expired, d.Expired)
	return m
}

func (m Messages) menu(fileName string) string {
	return fmt.Sprintf(m.Menu, fileName)
}

func (m Messages) copiesPrompt(mode printjob.ColorMode) string {
	return fmt.Sprintf(m.CopiesPrompt, mode.Label())
}

func (m Messages) printing(copies int, fileName string, mode printjob.ColorMode) string {
	colorText := "preto e branco"
	if mode == printjob.Color {
		colorText = "colorido"
	}
	return fmt.Sprintf(m.Printing, copies, fileName, colorText)
}
